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

type RepositoryService struct {
	base
	authz *authz.Client
}

func NewRepositoryService(pool *pgxpool.Pool, w *outbox.Writer, client *authz.Client, logger capturer.Logger) *RepositoryService {
	return &RepositoryService{base: newBase(pool, w, logger), authz: client}
}

// Create inserts the repository with the acting user as administrator
// and records the RepositoryCreated event in the same transaction.
func (s *RepositoryService) Create(ctx context.Context, orgID int64, name string, private bool, actorID int64) (*models.Repository, error) {
	repo := &models.Repository{OrganizationID: orgID, Name: name, Private: private, Version: 1}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO repositories (organization_id, name, private, version)
			 VALUES ($1, $2, $3, 1) RETURNING id, created_at`,
			orgID, name, private).Scan(&repo.ID, &repo.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert repository: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO repository_users (repository_id, user_id, role) VALUES ($1, $2, $3)`,
			repo.ID, actorID, string(authz.RelationAdministrator)); err != nil {
			return fmt.Errorf("insert administrator assignment: %w", err)
		}

		return s.outbox.Append(ctx, tx, &outbox.RepositoryCreated{
			RepositoryID:   repo.ID,
			OrganizationID: orgID,
			Assignments: []models.RoleAssignment{
				{UserID: actorID, Role: authz.RelationAdministrator},
			},
		}, actorID)
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *RepositoryService) Get(ctx context.Context, id int64) (*models.Repository, error) {
	var repo models.Repository
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, private, created_at, version FROM repositories WHERE id = $1`,
		id).Scan(&repo.ID, &repo.OrganizationID, &repo.Name, &repo.Private, &repo.CreatedAt, &repo.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select repository %d: %w", id, err)
	}
	return &repo, nil
}

func (s *RepositoryService) Delete(ctx context.Context, id int64, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var orgID int64
		err := tx.QueryRow(ctx, `SELECT organization_id FROM repositories WHERE id = $1`, id).Scan(&orgID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select repository %d: %w", id, err)
		}

		assignments, err := collectAssignments(ctx, tx,
			`SELECT user_id, role FROM repository_users WHERE repository_id = $1`, id)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM repository_users WHERE repository_id = $1`, id); err != nil {
			return fmt.Errorf("delete repository assignments: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete repository %d: %w", id, err)
		}

		return s.outbox.Append(ctx, tx, &outbox.RepositoryDeleted{
			RepositoryID:   id,
			OrganizationID: orgID,
			Assignments:    assignments,
		}, actorID)
	})
}

func (s *RepositoryService) AddUser(ctx context.Context, repoID, userID int64, role authz.Relation, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertAssignment(ctx, tx,
			`INSERT INTO repository_users (repository_id, user_id, role) VALUES ($1, $2, $3)`,
			repoID, userID, role); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, &outbox.UserAddedToRepository{
			RepositoryID: repoID,
			UserID:       userID,
			Role:         role,
		}, actorID)
	})
}

func (s *RepositoryService) RemoveUser(ctx context.Context, repoID, userID int64, role authz.Relation, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM repository_users WHERE repository_id = $1 AND user_id = $2 AND role = $3`,
			repoID, userID, string(role))
		if err != nil {
			return fmt.Errorf("delete repository assignment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return s.outbox.Append(ctx, tx, &outbox.UserRemovedFromRepository{
			RepositoryID: repoID,
			UserID:       userID,
			Role:         role,
		}, actorID)
	})
}

// ListVisible returns the repositories the user can read, in the order
// the engine enumerates them. The engine decides which ids qualify; the
// relational store supplies current field values.
func (s *RepositoryService) ListVisible(ctx context.Context, userID int64) ([]models.Repository, error) {
	return authz.ListObjects[models.Repository, models.User](ctx, s.authz, userID, authz.RelationReader, s.hydrate)
}

func (s *RepositoryService) hydrate(ctx context.Context, ids []int64) ([]models.Repository, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, organization_id, name, private, created_at, version
		 FROM repositories WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select repositories: %w", err)
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var repo models.Repository
		if err := rows.Scan(&repo.ID, &repo.OrganizationID, &repo.Name, &repo.Private, &repo.CreatedAt, &repo.Version); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}
