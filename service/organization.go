package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/capturer"
	"github.com/collabforge/authsync/models"
	"github.com/collabforge/authsync/outbox"
)

type OrganizationService struct {
	base
}

func NewOrganizationService(pool *pgxpool.Pool, w *outbox.Writer, logger capturer.Logger) *OrganizationService {
	return &OrganizationService{base: newBase(pool, w, logger)}
}

// Create inserts the organization, makes the acting user its owner, and
// records the OrganizationCreated event, all in one transaction.
func (s *OrganizationService) Create(ctx context.Context, name string, baseRole authz.Relation, actorID int64) (*models.Organization, error) {
	org := &models.Organization{Name: name, BaseRepositoryRole: baseRole, Version: 1}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO organizations (name, base_repository_role, version)
			 VALUES ($1, $2, 1) RETURNING id, created_at`,
			name, string(baseRole)).Scan(&org.ID, &org.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO organization_users (organization_id, user_id, role) VALUES ($1, $2, $3)`,
			org.ID, actorID, string(authz.RelationOwner)); err != nil {
			return fmt.Errorf("insert owner assignment: %w", err)
		}

		return s.outbox.Append(ctx, tx, &outbox.OrganizationCreated{
			OrganizationID:     org.ID,
			BaseRepositoryRole: baseRole,
			Assignments: []models.RoleAssignment{
				{UserID: actorID, Role: authz.RelationOwner},
			},
		}, actorID)
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (s *OrganizationService) Get(ctx context.Context, id int64) (*models.Organization, error) {
	var org models.Organization
	var baseRole string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, base_repository_role, created_at, version FROM organizations WHERE id = $1`,
		id).Scan(&org.ID, &org.Name, &baseRole, &org.CreatedAt, &org.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select organization %d: %w", id, err)
	}
	org.BaseRepositoryRole = authz.Relation(baseRole)
	return &org, nil
}

// UpdateBaseRole changes the organization's base repository role using
// the caller's version as the optimistic concurrency token. The event
// is only emitted when the role actually changed; other field updates
// are no-ops for the authorization graph.
func (s *OrganizationService) UpdateBaseRole(ctx context.Context, id int64, newRole authz.Relation, expectedVersion int32, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var oldRole string
		err := tx.QueryRow(ctx,
			`SELECT base_repository_role FROM organizations WHERE id = $1`, id).Scan(&oldRole)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select organization %d: %w", id, err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE organizations SET base_repository_role = $1, version = version + 1
			 WHERE id = $2 AND version = $3`,
			string(newRole), id, expectedVersion)
		if err != nil {
			return fmt.Errorf("update organization %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("organization %d at version %d: %w", id, expectedVersion, ErrConcurrencyConflict)
		}

		if authz.Relation(oldRole) == newRole {
			return nil
		}
		return s.outbox.Append(ctx, tx, &outbox.OrganizationBaseRoleChanged{
			OrganizationID: id,
			OldRole:        authz.Relation(oldRole),
			NewRole:        newRole,
		}, actorID)
	})
}

// Delete removes the organization and its role-assignment rows. The
// assignments existing at deletion time travel in the event payload:
// by consumption time they are the only remaining record of which
// tuples to delete.
func (s *OrganizationService) Delete(ctx context.Context, id int64, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var baseRole string
		err := tx.QueryRow(ctx,
			`SELECT base_repository_role FROM organizations WHERE id = $1`, id).Scan(&baseRole)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select organization %d: %w", id, err)
		}

		assignments, err := collectAssignments(ctx, tx,
			`SELECT user_id, role FROM organization_users WHERE organization_id = $1`, id)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM organization_users WHERE organization_id = $1`, id); err != nil {
			return fmt.Errorf("delete organization assignments: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete organization %d: %w", id, err)
		}

		return s.outbox.Append(ctx, tx, &outbox.OrganizationDeleted{
			OrganizationID:     id,
			BaseRepositoryRole: authz.Relation(baseRole),
			Assignments:        assignments,
		}, actorID)
	})
}

func (s *OrganizationService) AddUser(ctx context.Context, orgID, userID int64, role authz.Relation, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertAssignment(ctx, tx,
			`INSERT INTO organization_users (organization_id, user_id, role) VALUES ($1, $2, $3)`,
			orgID, userID, role); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, &outbox.UserAddedToOrganization{
			OrganizationID: orgID,
			UserID:         userID,
			Role:           role,
		}, actorID)
	})
}

func (s *OrganizationService) RemoveUser(ctx context.Context, orgID, userID int64, role authz.Relation, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM organization_users WHERE organization_id = $1 AND user_id = $2 AND role = $3`,
			orgID, userID, string(role))
		if err != nil {
			return fmt.Errorf("delete organization assignment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return s.outbox.Append(ctx, tx, &outbox.UserRemovedFromOrganization{
			OrganizationID: orgID,
			UserID:         userID,
			Role:           role,
		}, actorID)
	})
}

func collectAssignments(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]models.RoleAssignment, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.RoleAssignment
	for rows.Next() {
		var a models.RoleAssignment
		var role string
		if err := rows.Scan(&a.UserID, &role); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Role = authz.Relation(role)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func insertAssignment(ctx context.Context, tx pgx.Tx, query string, objectID, userID int64, role authz.Relation) error {
	_, err := tx.Exec(ctx, query, objectID, userID, string(role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("user %d role %s: %w", userID, role, ErrRoleAlreadyAssigned)
		}
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}
