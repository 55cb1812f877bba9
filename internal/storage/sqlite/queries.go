package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

const queryColumns = `id, session_id, user_question, answer, urgency_level, medical_specialty, complexity_score,
	confidence, citations, reasoning_steps, safety_flags, diagnostic_stage, created_at`

func (c *Client) InsertQuery(ctx context.Context, q *models.Query) error {
	stage := q.DiagnosticStage
	if stage == "" {
		stage = models.StageInitial
	}
	urgency := q.UrgencyLevel
	if urgency == "" {
		urgency = models.UrgencyRoutine
	}
	complexity := q.ComplexityScore
	if complexity == 0 {
		complexity = 1
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO queries (id, session_id, user_question, urgency_level, medical_specialty, complexity_score, diagnostic_stage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, nullableString(q.SessionID), q.UserQuestion, urgency, nullableString(q.MedicalSpecialty),
		complexity, stage, toMillis(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query: %w", err)
	}

	logger.Debug("Query inserted", zap.String("query_id", q.ID))
	return nil
}

func (c *Client) UpdateQueryClassification(ctx context.Context, id, urgency, specialty string, complexity int) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE queries SET urgency_level = ?, medical_specialty = ?, complexity_score = ?
		WHERE id = ? AND diagnostic_stage != 'completed'`,
		urgency, specialty, complexity, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update query classification: %w", err)
	}
	return c.checkQueryUpdated(ctx, res, id)
}

// CompleteQuery writes the final answer. Completed queries are immutable.
func (c *Client) CompleteQuery(ctx context.Context, id string, done models.QueryCompletion) error {
	citations, err := encodeJSON(done.Citations, "[]")
	if err != nil {
		return err
	}
	steps, err := encodeJSON(done.ReasoningSteps, "[]")
	if err != nil {
		return err
	}
	flags, err := encodeJSON(done.SafetyFlags, "[]")
	if err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE queries
		SET answer = ?, confidence = ?, citations = ?, reasoning_steps = ?, safety_flags = ?, diagnostic_stage = 'completed'
		WHERE id = ? AND diagnostic_stage != 'completed'`,
		done.Answer, done.Confidence, citations, steps, flags, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete query: %w", err)
	}
	return c.checkQueryUpdated(ctx, res, id)
}

func (c *Client) MarkQueryError(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE queries SET diagnostic_stage = 'error' WHERE id = ? AND diagnostic_stage != 'completed'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark query error: %w", err)
	}
	return c.checkQueryUpdated(ctx, res, id)
}

func (c *Client) checkQueryUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := c.GetQuery(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("query %s: %w", id, models.ErrQueryCompleted)
}

func (c *Client) GetQuery(ctx context.Context, id string) (*models.Query, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = ?`, id)
	q, err := scanQuery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}
	return q, nil
}

// ListRecentQueries returns the newest queries of a session first.
func (c *Client) ListRecentQueries(ctx context.Context, sessionID string, limit int) ([]models.Query, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+queryColumns+`
		FROM queries
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var queries []models.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		queries = append(queries, *q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	return queries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuery(s scanner) (*models.Query, error) {
	var (
		q                       models.Query
		sessionID, answer, spec sql.NullString
		citations, steps, flags string
		createdAt               int64
	)

	err := s.Scan(&q.ID, &sessionID, &q.UserQuestion, &answer, &q.UrgencyLevel, &spec, &q.ComplexityScore,
		&q.Confidence, &citations, &steps, &flags, &q.DiagnosticStage, &createdAt)
	if err != nil {
		return nil, err
	}

	q.SessionID = stringPtr(sessionID)
	q.Answer = stringPtr(answer)
	q.MedicalSpecialty = stringPtr(spec)
	q.CreatedAt = fromMillis(createdAt)

	if err := decodeJSON(citations, &q.Citations); err != nil {
		return nil, err
	}
	if err := decodeJSON(steps, &q.ReasoningSteps); err != nil {
		return nil, err
	}
	if err := decodeJSON(flags, &q.SafetyFlags); err != nil {
		return nil, err
	}

	return &q, nil
}
