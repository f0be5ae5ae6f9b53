// Package db provides PostgreSQL access for session and score records.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// ScoreRow is one persisted grading outcome. Rows are append-only: a
// regrade inserts a new row with its own id and past rows stay addressable.
type ScoreRow struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	CaseID     string     `json:"case_id"`
	TotalScore int        `json:"total_score"`
	BackupKey  string     `json:"backup_key,omitempty"`
	Payload    []byte     `json:"payload"`
	CreatedAt  time.Time  `json:"created_at"`
}

// InsertScoreResult writes a new score row linking the session, the case,
// and the serialized payload kept for audit retrieval.
func (db *DB) InsertScoreResult(ctx context.Context, row *ScoreRow) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO score_results (id, session_id, case_id, total_score, backup_key, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		row.ID, row.SessionID, row.CaseID, row.TotalScore, row.BackupKey, row.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert score result: %w", err)
	}
	return nil
}

// CompleteSession marks the owning session completed.
func (db *DB) CompleteSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE sessions SET status = 'completed', completed_at = NOW() WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return nil
}

// GetScoreResult retrieves a score row by its id.
func (db *DB) GetScoreResult(ctx context.Context, id uuid.UUID) (*ScoreRow, error) {
	var row ScoreRow
	err := db.pool.QueryRow(ctx,
		`SELECT id, session_id, case_id, total_score, COALESCE(backup_key, ''), payload, created_at
		 FROM score_results WHERE id = $1`,
		id,
	).Scan(&row.ID, &row.SessionID, &row.CaseID, &row.TotalScore, &row.BackupKey, &row.Payload, &row.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get score result: %w", err)
	}
	return &row, nil
}

// ListScoreResults retrieves a session's score rows, newest first. A
// regraded session has several rows.
func (db *DB) ListScoreResults(ctx context.Context, sessionID uuid.UUID) ([]ScoreRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, case_id, total_score, COALESCE(backup_key, ''), payload, created_at
		 FROM score_results WHERE session_id = $1 ORDER BY created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list score results: %w", err)
	}
	defer rows.Close()

	var results []ScoreRow
	for rows.Next() {
		var row ScoreRow
		if err := rows.Scan(&row.ID, &row.SessionID, &row.CaseID, &row.TotalScore, &row.BackupKey, &row.Payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score result: %w", err)
		}
		results = append(results, row)
	}
	return results, nil
}
