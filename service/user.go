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

type UserService struct {
	base
}

func NewUserService(pool *pgxpool.Pool, w *outbox.Writer, logger capturer.Logger) *UserService {
	return &UserService{base: newBase(pool, w, logger)}
}

// Create inserts the user. A fresh user holds no relations, so no event
// is emitted.
func (s *UserService) Create(ctx context.Context, login, email string) (*models.User, error) {
	user := &models.User{Login: login, Email: email, Version: 1}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (login, email, version) VALUES ($1, $2, 1) RETURNING id, created_at`,
		login, email).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, login, email, created_at, version FROM users WHERE id = $1`,
		id).Scan(&user.ID, &user.Login, &user.Email, &user.CreatedAt, &user.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user %d: %w", id, err)
	}
	return &user, nil
}

// Delete removes the user and every role row naming them, across all
// four join tables plus the creator relation on issues they opened.
// The collected lists travel in the UserDeleted payload so the consumer
// can sweep the matching tuples after the rows are gone.
func (s *UserService) Delete(ctx context.Context, id int64, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `SELECT 1 FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("select user %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		msg := &outbox.UserDeleted{UserID: id}

		msg.OrganizationRoles, err = collectObjectRoles(ctx, tx,
			`SELECT organization_id, role FROM organization_users WHERE user_id = $1`, id)
		if err != nil {
			return err
		}
		msg.TeamRoles, err = collectObjectRoles(ctx, tx,
			`SELECT team_id, role FROM team_users WHERE user_id = $1`, id)
		if err != nil {
			return err
		}
		msg.RepositoryRoles, err = collectObjectRoles(ctx, tx,
			`SELECT repository_id, role FROM repository_users WHERE user_id = $1`, id)
		if err != nil {
			return err
		}
		msg.IssueRoles, err = collectObjectRoles(ctx, tx,
			`SELECT issue_id, role FROM issue_users WHERE user_id = $1`, id)
		if err != nil {
			return err
		}

		creatorRoles, err := collectObjectRoles(ctx, tx,
			`SELECT id, $2::text FROM issues WHERE creator_id = $1`, id, string(authz.RelationCreator))
		if err != nil {
			return err
		}
		msg.IssueRoles = append(msg.IssueRoles, creatorRoles...)

		for _, q := range []string{
			`DELETE FROM organization_users WHERE user_id = $1`,
			`DELETE FROM team_users WHERE user_id = $1`,
			`DELETE FROM repository_users WHERE user_id = $1`,
			`DELETE FROM issue_users WHERE user_id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return fmt.Errorf("delete user role rows: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete user %d: %w", id, err)
		}

		return s.outbox.Append(ctx, tx, msg, actorID)
	})
}

func collectObjectRoles(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]models.ObjectRole, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select user roles: %w", err)
	}
	defer rows.Close()

	var roles []models.ObjectRole
	for rows.Next() {
		var r models.ObjectRole
		var role string
		if err := rows.Scan(&r.ObjectID, &role); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		r.Role = authz.Relation(role)
		roles = append(roles, r)
	}
	return roles, rows.Err()
}
