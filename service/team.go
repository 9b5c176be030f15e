package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/capturer"
	"github.com/collabforge/authsync/models"
	"github.com/collabforge/authsync/outbox"
)

type TeamService struct {
	base
}

func NewTeamService(pool *pgxpool.Pool, w *outbox.Writer, logger capturer.Logger) *TeamService {
	return &TeamService{base: newBase(pool, w, logger)}
}

// Create inserts the team with the acting user as maintainer and
// records the TeamCreated event in the same transaction.
func (s *TeamService) Create(ctx context.Context, orgID int64, name string, actorID int64) (*models.Team, error) {
	team := &models.Team{OrganizationID: orgID, Name: name, Version: 1}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO teams (organization_id, name, version)
			 VALUES ($1, $2, 1) RETURNING id, created_at`,
			orgID, name).Scan(&team.ID, &team.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert team: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO team_users (team_id, user_id, role) VALUES ($1, $2, $3)`,
			team.ID, actorID, string(authz.RelationMaintainer)); err != nil {
			return fmt.Errorf("insert maintainer assignment: %w", err)
		}

		return s.outbox.Append(ctx, tx, &outbox.TeamCreated{
			TeamID:         team.ID,
			OrganizationID: orgID,
			Assignments: []models.RoleAssignment{
				{UserID: actorID, Role: authz.RelationMaintainer},
			},
		}, actorID)
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (s *TeamService) Get(ctx context.Context, id int64) (*models.Team, error) {
	var team models.Team
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, created_at, version FROM teams WHERE id = $1`,
		id).Scan(&team.ID, &team.OrganizationID, &team.Name, &team.CreatedAt, &team.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select team %d: %w", id, err)
	}
	return &team, nil
}

func (s *TeamService) Delete(ctx context.Context, id int64, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var orgID int64
		err := tx.QueryRow(ctx, `SELECT organization_id FROM teams WHERE id = $1`, id).Scan(&orgID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select team %d: %w", id, err)
		}

		assignments, err := collectAssignments(ctx, tx,
			`SELECT user_id, role FROM team_users WHERE team_id = $1`, id)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM team_users WHERE team_id = $1`, id); err != nil {
			return fmt.Errorf("delete team assignments: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete team %d: %w", id, err)
		}

		return s.outbox.Append(ctx, tx, &outbox.TeamDeleted{
			TeamID:         id,
			OrganizationID: orgID,
			Assignments:    assignments,
		}, actorID)
	})
}

func (s *TeamService) AddUser(ctx context.Context, teamID, userID int64, role authz.Relation, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertAssignment(ctx, tx,
			`INSERT INTO team_users (team_id, user_id, role) VALUES ($1, $2, $3)`,
			teamID, userID, role); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, &outbox.UserAddedToTeam{
			TeamID: teamID,
			UserID: userID,
			Role:   role,
		}, actorID)
	})
}

func (s *TeamService) RemoveUser(ctx context.Context, teamID, userID int64, role authz.Relation, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM team_users WHERE team_id = $1 AND user_id = $2 AND role = $3`,
			teamID, userID, string(role))
		if err != nil {
			return fmt.Errorf("delete team assignment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return s.outbox.Append(ctx, tx, &outbox.UserRemovedFromTeam{
			TeamID: teamID,
			UserID: userID,
			Role:   role,
		}, actorID)
	})
}
