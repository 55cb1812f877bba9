package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string, busyTimeoutMs, maxOpenConns int) (*Client, error) {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}

	inMemory := dbPath == ":memory:"
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", dbPath, busyTimeoutMs)
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if inMemory {
		db.SetMaxOpenConns(1)
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_sub TEXT NOT NULL,
		medical_context TEXT NOT NULL DEFAULT '{}',
		patient_context TEXT NOT NULL DEFAULT '{}',
		risk_level TEXT NOT NULL DEFAULT 'routine' CHECK (risk_level IN ('routine', 'urgent', 'emergency')),
		specialty_focus TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_sub);

	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		session_id TEXT REFERENCES sessions(id),
		user_question TEXT NOT NULL,
		answer TEXT,
		urgency_level TEXT NOT NULL DEFAULT 'routine',
		medical_specialty TEXT,
		complexity_score INTEGER NOT NULL DEFAULT 1 CHECK (complexity_score BETWEEN 1 AND 5),
		confidence REAL NOT NULL DEFAULT 0,
		citations TEXT NOT NULL DEFAULT '[]',
		reasoning_steps TEXT NOT NULL DEFAULT '[]',
		safety_flags TEXT NOT NULL DEFAULT '[]',
		diagnostic_stage TEXT NOT NULL DEFAULT 'initial' CHECK (diagnostic_stage IN ('initial', 'completed', 'error')),
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queries_session ON queries(session_id, created_at);

	CREATE TABLE IF NOT EXISTS diagnostic_workflows (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		query_id TEXT NOT NULL REFERENCES queries(id),
		workflow_type TEXT NOT NULL,
		current_step INTEGER NOT NULL CHECK (current_step BETWEEN 1 AND 6),
		total_steps INTEGER NOT NULL,
		step_data TEXT NOT NULL DEFAULT '{}',
		completed_steps TEXT NOT NULL DEFAULT '[]',
		confidence_scores TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_workflows_query ON diagnostic_workflows(query_id);

	CREATE TABLE IF NOT EXISTS safety_alerts (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		query_id TEXT,
		alert_type TEXT NOT NULL CHECK (alert_type IN ('emergency', 'high_risk')),
		category TEXT NOT NULL,
		alert_message TEXT NOT NULL,
		triggered_keywords TEXT NOT NULL DEFAULT '[]',
		severity_score INTEGER NOT NULL CHECK (severity_score BETWEEN 1 AND 10),
		acknowledged INTEGER NOT NULL DEFAULT 0,
		acknowledged_by TEXT,
		acknowledged_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_session ON safety_alerts(session_id, created_at);

	CREATE TABLE IF NOT EXISTS medical_classifications (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL REFERENCES queries(id),
		urgency_level TEXT NOT NULL,
		medical_specialty TEXT NOT NULL,
		complexity_score INTEGER NOT NULL,
		workflow_type TEXT NOT NULL,
		classification_confidence REAL NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_classifications_query ON medical_classifications(query_id);

	CREATE TABLE IF NOT EXISTS medical_chunks (
		id TEXT PRIMARY KEY,
		book_title TEXT NOT NULL,
		chapter_title TEXT,
		section_title TEXT,
		page_number INTEGER,
		chunk_text TEXT NOT NULL,
		specialty TEXT NOT NULL,
		source_url TEXT,
		confidence_score REAL NOT NULL DEFAULT 1.0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_specialty ON medical_chunks(specialty);

	CREATE TABLE IF NOT EXISTS medical_context_summary (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		summary_text TEXT NOT NULL,
		key_symptoms TEXT NOT NULL DEFAULT '[]',
		previous_diagnoses TEXT NOT NULL DEFAULT '[]',
		medications_mentioned TEXT NOT NULL DEFAULT '[]',
		allergies_mentioned TEXT NOT NULL DEFAULT '[]',
		summary_confidence REAL NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summary_session ON medical_context_summary(session_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		subject_hash TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_logs(event, created_at);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func decodeJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
