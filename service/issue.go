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

type IssueService struct {
	base
}

func NewIssueService(pool *pgxpool.Pool, w *outbox.Writer, logger capturer.Logger) *IssueService {
	return &IssueService{base: newBase(pool, w, logger)}
}

// Create inserts the issue and records the IssueCreated event. The
// creator relation lives in the event, not a join row: the issues table
// already carries creator_id.
func (s *IssueService) Create(ctx context.Context, repoID int64, title, body string, actorID int64) (*models.Issue, error) {
	issue := &models.Issue{RepositoryID: repoID, CreatorID: actorID, Title: title, Body: body, Version: 1}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO issues (repository_id, creator_id, title, body, closed, version)
			 VALUES ($1, $2, $3, $4, false, 1) RETURNING id, created_at`,
			repoID, actorID, title, body).Scan(&issue.ID, &issue.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}

		return s.outbox.Append(ctx, tx, &outbox.IssueCreated{
			IssueID:      issue.ID,
			RepositoryID: repoID,
			CreatorID:    actorID,
		}, actorID)
	})
	if err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *IssueService) Get(ctx context.Context, id int64) (*models.Issue, error) {
	var issue models.Issue
	err := s.pool.QueryRow(ctx,
		`SELECT id, repository_id, creator_id, title, body, closed, created_at, version
		 FROM issues WHERE id = $1`,
		id).Scan(&issue.ID, &issue.RepositoryID, &issue.CreatorID, &issue.Title, &issue.Body,
		&issue.Closed, &issue.CreatedAt, &issue.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select issue %d: %w", id, err)
	}
	return &issue, nil
}

// SetClosed flips the closed flag under the optimistic version token.
// Closing an issue does not touch the authorization graph, so no event
// is emitted.
func (s *IssueService) SetClosed(ctx context.Context, id int64, closed bool, expectedVersion int32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE issues SET closed = $1, version = version + 1 WHERE id = $2 AND version = $3`,
		closed, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("update issue %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("issue %d at version %d: %w", id, expectedVersion, ErrConcurrencyConflict)
	}
	return nil
}

// Assign adds an assignee to the issue. Assignments live in a join
// table and in the graph, the same shape as container memberships.
func (s *IssueService) Assign(ctx context.Context, issueID, userID int64, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertAssignment(ctx, tx,
			`INSERT INTO issue_users (issue_id, user_id, role) VALUES ($1, $2, $3)`,
			issueID, userID, authz.RelationAssignee); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, &outbox.UserAddedToIssue{
			IssueID: issueID,
			UserID:  userID,
			Role:    authz.RelationAssignee,
		}, actorID)
	})
}

// Unassign removes an assignee from the issue.
func (s *IssueService) Unassign(ctx context.Context, issueID, userID int64, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM issue_users WHERE issue_id = $1 AND user_id = $2 AND role = $3`,
			issueID, userID, string(authz.RelationAssignee))
		if err != nil {
			return fmt.Errorf("delete issue assignment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return s.outbox.Append(ctx, tx, &outbox.UserRemovedFromIssue{
			IssueID: issueID,
			UserID:  userID,
			Role:    authz.RelationAssignee,
		}, actorID)
	})
}

func (s *IssueService) Delete(ctx context.Context, id int64, actorID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var creatorID int64
		err := tx.QueryRow(ctx, `SELECT creator_id FROM issues WHERE id = $1`, id).Scan(&creatorID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select issue %d: %w", id, err)
		}

		assignments, err := collectAssignments(ctx, tx,
			`SELECT user_id, role FROM issue_users WHERE issue_id = $1`, id)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM issue_users WHERE issue_id = $1`, id); err != nil {
			return fmt.Errorf("delete issue assignments: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM issues WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete issue %d: %w", id, err)
		}

		return s.outbox.Append(ctx, tx, &outbox.IssueDeleted{
			IssueID:     id,
			CreatorID:   creatorID,
			Assignments: assignments,
		}, actorID)
	})
}
