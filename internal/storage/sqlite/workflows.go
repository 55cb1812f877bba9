package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nelson-gpt/backend/internal/storage/models"
)

func (c *Client) InsertWorkflow(ctx context.Context, w *models.DiagnosticWorkflow) error {
	stepData, err := encodeJSON(w.StepData, "{}")
	if err != nil {
		return err
	}
	completed, err := encodeJSON(w.CompletedSteps, "[]")
	if err != nil {
		return err
	}
	scores, err := encodeJSON(w.ConfidenceScores, "{}")
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO diagnostic_workflows (id, session_id, query_id, workflow_type, current_step, total_steps,
			step_data, completed_steps, confidence_scores, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, nullableString(w.SessionID), w.QueryID, w.WorkflowType, w.CurrentStep, w.TotalSteps,
		stepData, completed, scores, toMillis(w.CreatedAt), toMillis(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// UpdateWorkflowProgress never moves current_step backwards; a stale
// update is ignored.
func (c *Client) UpdateWorkflowProgress(ctx context.Context, id string, p models.WorkflowProgress) error {
	stepData, err := encodeJSON(p.StepData, "{}")
	if err != nil {
		return err
	}
	completed, err := encodeJSON(p.CompletedSteps, "[]")
	if err != nil {
		return err
	}
	scores, err := encodeJSON(p.ConfidenceScores, "{}")
	if err != nil {
		return err
	}

	now := time.Now()
	var completedAt sql.NullInt64
	if p.Completed {
		completedAt = sql.NullInt64{Int64: toMillis(now), Valid: true}
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE diagnostic_workflows
		SET current_step = ?, step_data = ?, completed_steps = ?, confidence_scores = ?, updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND current_step <= ?`,
		p.CurrentStep, stepData, completed, scores, toMillis(now), completedAt, id, p.CurrentStep,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if n == 0 {
		if _, err := c.GetWorkflow(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.DiagnosticWorkflow, error) {
	var (
		w                           models.DiagnosticWorkflow
		sessionID                   sql.NullString
		stepData, completed, scores string
		createdAt, updatedAt        int64
		completedAt                 sql.NullInt64
	)

	err := c.db.QueryRowContext(ctx, `
		SELECT id, session_id, query_id, workflow_type, current_step, total_steps, step_data, completed_steps,
			confidence_scores, created_at, updated_at, completed_at
		FROM diagnostic_workflows WHERE id = ?`, id,
	).Scan(&w.ID, &sessionID, &w.QueryID, &w.WorkflowType, &w.CurrentStep, &w.TotalSteps, &stepData, &completed,
		&scores, &createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	w.SessionID = stringPtr(sessionID)
	w.CreatedAt = fromMillis(createdAt)
	w.UpdatedAt = fromMillis(updatedAt)
	w.CompletedAt = timePtr(completedAt)

	if err := decodeJSON(stepData, &w.StepData); err != nil {
		return nil, err
	}
	if err := decodeJSON(completed, &w.CompletedSteps); err != nil {
		return nil, err
	}
	if err := decodeJSON(scores, &w.ConfidenceScores); err != nil {
		return nil, err
	}

	return &w, nil
}
