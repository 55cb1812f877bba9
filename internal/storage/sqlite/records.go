package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

func (c *Client) InsertSafetyAlert(ctx context.Context, a *models.SafetyAlert) error {
	keywords, err := encodeJSON(a.TriggeredKeywords, "[]")
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO safety_alerts (id, session_id, query_id, alert_type, category, alert_message, triggered_keywords,
			severity_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullableString(a.SessionID), nullableString(a.QueryID), a.AlertType, a.Category, a.AlertMessage,
		keywords, a.SeverityScore, toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert safety alert: %w", err)
	}

	logger.Info("Safety alert recorded",
		zap.String("alert_id", a.ID),
		zap.String("category", a.Category),
		zap.Int("severity", a.SeverityScore),
	)
	return nil
}

func (c *Client) AcknowledgeSafetyAlert(ctx context.Context, id, by string) (*models.SafetyAlert, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE safety_alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND acknowledged = 0`, by, toMillis(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge safety alert: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to acknowledge safety alert: %w", err)
	}

	return c.GetSafetyAlert(ctx, id)
}

const alertColumns = `id, session_id, query_id, alert_type, category, alert_message, triggered_keywords,
	severity_score, acknowledged, acknowledged_by, acknowledged_at, created_at`

func (c *Client) GetSafetyAlert(ctx context.Context, id string) (*models.SafetyAlert, error) {
	a, err := scanAlert(c.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM safety_alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("safety alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get safety alert: %w", err)
	}
	return a, nil
}

func (c *Client) ListSafetyAlerts(ctx context.Context, sessionID string) ([]models.SafetyAlert, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM safety_alerts
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list safety alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.SafetyAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan safety alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func scanAlert(s scanner) (*models.SafetyAlert, error) {
	var (
		a                           models.SafetyAlert
		sessionID, queryID, ackedBy sql.NullString
		keywords                    string
		acked                       int
		ackedAt                     sql.NullInt64
		createdAt                   int64
	)

	err := s.Scan(&a.ID, &sessionID, &queryID, &a.AlertType, &a.Category, &a.AlertMessage, &keywords,
		&a.SeverityScore, &acked, &ackedBy, &ackedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	a.SessionID = stringPtr(sessionID)
	a.QueryID = stringPtr(queryID)
	a.Acknowledged = acked == 1
	a.AcknowledgedBy = stringPtr(ackedBy)
	a.AcknowledgedAt = timePtr(ackedAt)
	a.CreatedAt = fromMillis(createdAt)

	if err := decodeJSON(keywords, &a.TriggeredKeywords); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) InsertClassification(ctx context.Context, m *models.MedicalClassification) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO medical_classifications (id, query_id, urgency_level, medical_specialty, complexity_score,
			workflow_type, classification_confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.QueryID, m.UrgencyLevel, m.MedicalSpecialty, m.ComplexityScore, m.WorkflowType,
		m.ClassificationConfidence, toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert classification: %w", err)
	}
	return nil
}

func (c *Client) InsertContextSummary(ctx context.Context, s *models.ContextSummary) error {
	symptoms, err := encodeJSON(s.KeySymptoms, "[]")
	if err != nil {
		return err
	}
	diagnoses, err := encodeJSON(s.PreviousDiagnoses, "[]")
	if err != nil {
		return err
	}
	medications, err := encodeJSON(s.MedicationsMentioned, "[]")
	if err != nil {
		return err
	}
	allergies, err := encodeJSON(s.AllergiesMentioned, "[]")
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO medical_context_summary (id, session_id, summary_text, key_symptoms, previous_diagnoses,
			medications_mentioned, allergies_mentioned, summary_confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SessionID, s.SummaryText, symptoms, diagnoses, medications, allergies,
		s.SummaryConfidence, toMillis(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert context summary: %w", err)
	}
	return nil
}

// ListContextSummaries returns the newest summaries of a session first.
func (c *Client) ListContextSummaries(ctx context.Context, sessionID string, limit int) ([]models.ContextSummary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, session_id, summary_text, key_symptoms, previous_diagnoses, medications_mentioned,
			allergies_mentioned, summary_confidence, created_at
		FROM medical_context_summary
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list context summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.ContextSummary
	for rows.Next() {
		var (
			s                                           models.ContextSummary
			symptoms, diagnoses, medications, allergies string
			createdAt                                   int64
		)
		if err := rows.Scan(&s.ID, &s.SessionID, &s.SummaryText, &symptoms, &diagnoses, &medications,
			&allergies, &s.SummaryConfidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan context summary: %w", err)
		}
		s.CreatedAt = fromMillis(createdAt)
		for _, col := range []struct {
			raw string
			dst *[]string
		}{
			{symptoms, &s.KeySymptoms},
			{diagnoses, &s.PreviousDiagnoses},
			{medications, &s.MedicationsMentioned},
			{allergies, &s.AllergiesMentioned},
		} {
			if err := decodeJSON(col.raw, col.dst); err != nil {
				return nil, err
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (c *Client) InsertAuditLog(ctx context.Context, l *models.AuditLog) error {
	details, err := encodeJSON(l.Details, "{}")
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, event, subject_hash, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Event, l.SubjectHash, details, toMillis(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (c *Client) InsertMedicalChunk(ctx context.Context, m *models.MedicalChunk) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO medical_chunks (id, book_title, chapter_title, section_title, page_number, chunk_text,
			specialty, source_url, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chunk_text = excluded.chunk_text,
			specialty = excluded.specialty`,
		m.ID, m.BookTitle, m.ChapterTitle, m.SectionTitle, m.PageNumber, m.ChunkText,
		m.Specialty, m.SourceURL, m.ConfidenceScore, toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert medical chunk: %w", err)
	}
	return nil
}
