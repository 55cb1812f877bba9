package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

func (c *Client) CreateSession(ctx context.Context, s *models.Session) error {
	medical, err := encodeJSON(s.MedicalContext, "{}")
	if err != nil {
		return err
	}
	patient, err := encodeJSON(s.PatientContext, "{}")
	if err != nil {
		return err
	}
	risk := s.RiskLevel
	if risk == "" {
		risk = models.UrgencyRoutine
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_sub, medical_context, patient_context, risk_level, specialty_focus, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserSub, medical, patient, risk, nullableString(s.SpecialtyFocus), toMillis(s.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	logger.Debug("Session created", zap.String("session_id", s.ID))
	return nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		s                models.Session
		medical, patient string
		specialty        sql.NullString
		startedAt        int64
		endedAt          sql.NullInt64
	)

	err := c.db.QueryRowContext(ctx, `
		SELECT id, user_sub, medical_context, patient_context, risk_level, specialty_focus, started_at, ended_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserSub, &medical, &patient, &s.RiskLevel, &specialty, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.MedicalContext = map[string]any{}
	s.PatientContext = map[string]any{}
	if err := decodeJSON(medical, &s.MedicalContext); err != nil {
		return nil, err
	}
	if err := decodeJSON(patient, &s.PatientContext); err != nil {
		return nil, err
	}
	s.SpecialtyFocus = stringPtr(specialty)
	s.StartedAt = fromMillis(startedAt)
	s.EndedAt = timePtr(endedAt)

	return &s, nil
}

// MergeSessionContext applies patch in a single statement. Each top-level key
// is written with json_set, so concurrent merges touching different keys all
// survive and merges on the same key resolve last-writer-wins.
func (c *Client) MergeSessionContext(ctx context.Context, id string, patch models.ContextPatch) error {
	var (
		sets []string
		args []any
	)

	if expr, exprArgs, err := jsonSetExpr("medical_context", patch.Medical); err != nil {
		return err
	} else if expr != "" {
		sets = append(sets, "medical_context = "+expr)
		args = append(args, exprArgs...)
	}

	if expr, exprArgs, err := jsonSetExpr("patient_context", patch.Patient); err != nil {
		return err
	} else if expr != "" {
		sets = append(sets, "patient_context = "+expr)
		args = append(args, exprArgs...)
	}

	if patch.RiskLevel != nil {
		sets = append(sets, "risk_level = ?")
		args = append(args, *patch.RiskLevel)
	}
	if patch.SpecialtyFocus != nil {
		sets = append(sets, "specialty_focus = ?")
		args = append(args, *patch.SpecialtyFocus)
	}

	if len(sets) == 0 {
		_, err := c.GetSession(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := c.db.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to merge session context: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to merge session context: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}

	return nil
}

func (c *Client) ResetSessionContext(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE sessions
		SET medical_context = '{}', patient_context = '{}', risk_level = 'routine', specialty_focus = NULL
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to reset session context: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reset session context: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func jsonSetExpr(column string, values map[string]any) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "" || strings.ContainsAny(k, `"\`) {
			logger.Warn("Skipping unsupported context key", zap.String("column", column), zap.String("key", k))
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", nil, nil
	}
	sort.Strings(keys)

	var b strings.Builder
	args := make([]any, 0, len(keys)*2)
	b.WriteString("json_set(COALESCE(" + column + ", '{}')")
	for _, k := range keys {
		encoded, err := encodeJSON(values[k], "null")
		if err != nil {
			return "", nil, err
		}
		b.WriteString(", ?, json(?)")
		args = append(args, `$."`+k+`"`, encoded)
	}
	b.WriteString(")")

	return b.String(), args, nil
}
