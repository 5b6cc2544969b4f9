package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/roster-import-api/internal/models"
)

const importCommitColumns = `id, session_id, user_id, project_id, mode, status, student_count, message, created_at`

// ImportCommitRepository persists the commit audit trail.
type ImportCommitRepository struct {
	db *sqlx.DB
}

// NewImportCommitRepository constructs the repository.
func NewImportCommitRepository(db *sqlx.DB) *ImportCommitRepository {
	return &ImportCommitRepository{db: db}
}

// Create inserts a commit record.
func (r *ImportCommitRepository) Create(ctx context.Context, commit *models.ImportCommit) error {
	if commit.CreatedAt.IsZero() {
		commit.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO import_commits (` + importCommitColumns + `)
VALUES (:id, :session_id, :user_id, :project_id, :mode, :status, :student_count, :message, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, commit); err != nil {
		return fmt.Errorf("insert import commit: %w", err)
	}
	return nil
}

// ListBySession returns the commits of a session, newest first.
func (r *ImportCommitRepository) ListBySession(ctx context.Context, sessionID string) ([]models.ImportCommit, error) {
	const query = `SELECT ` + importCommitColumns + ` FROM import_commits WHERE session_id = $1 ORDER BY created_at DESC`
	var commits []models.ImportCommit
	if err := r.db.SelectContext(ctx, &commits, query, sessionID); err != nil {
		return nil, fmt.Errorf("list import commits: %w", err)
	}
	return commits, nil
}

// ListByUser returns the latest commits of a user.
func (r *ImportCommitRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.ImportCommit, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT ` + importCommitColumns + ` FROM import_commits WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	var commits []models.ImportCommit
	if err := r.db.SelectContext(ctx, &commits, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list user import commits: %w", err)
	}
	return commits, nil
}

// Ping checks the database connection.
func (r *ImportCommitRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
