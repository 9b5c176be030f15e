// Package models holds the collaboration domain entities. Every entity
// carries a numeric id and a version used as an optimistic concurrency
// token: an update that affects zero rows lost a concurrent race.
package models

import (
	"time"

	"github.com/collabforge/authsync/authz"
)

type User struct {
	ID        int64
	Login     string
	Email     string
	CreatedAt time.Time
	Version   int32
}

func (u User) EntityID() int64    { return u.ID }
func (u User) EntityType() string { return "User" }

type Organization struct {
	ID   int64
	Name string

	// BaseRepositoryRole is the repository role every member gets on
	// repositories the organization owns.
	BaseRepositoryRole authz.Relation

	CreatedAt time.Time
	Version   int32
}

func (o Organization) EntityID() int64    { return o.ID }
func (o Organization) EntityType() string { return "Organization" }

type Team struct {
	ID             int64
	OrganizationID int64
	Name           string
	CreatedAt      time.Time
	Version        int32
}

func (t Team) EntityID() int64    { return t.ID }
func (t Team) EntityType() string { return "Team" }

type Repository struct {
	ID             int64
	OrganizationID int64
	Name           string
	Private        bool
	CreatedAt      time.Time
	Version        int32
}

func (r Repository) EntityID() int64    { return r.ID }
func (r Repository) EntityType() string { return "Repository" }

type Issue struct {
	ID           int64
	RepositoryID int64
	CreatorID    int64
	Title        string
	Body         string
	Closed       bool
	CreatedAt    time.Time
	Version      int32
}

func (i Issue) EntityID() int64    { return i.ID }
func (i Issue) EntityType() string { return "Issue" }

var (
	_ authz.Entity = User{}
	_ authz.Entity = Organization{}
	_ authz.Entity = Team{}
	_ authz.Entity = Repository{}
	_ authz.Entity = Issue{}
)

// RoleAssignment is one row of a role-assignment join table: a user and
// the role they hold on some container entity.
type RoleAssignment struct {
	UserID int64          `json:"user_id"`
	Role   authz.Relation `json:"role"`
}

// ObjectRole names an object a user holds a role on; used in deletion
// payloads where the join rows are already gone by consumption time.
type ObjectRole struct {
	ObjectID int64          `json:"object_id"`
	Role     authz.Relation `json:"role"`
}
