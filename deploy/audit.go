package deploy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// AuditRecord describes one successful deploy.
type AuditRecord struct {
	ID         uuid.UUID `json:"id"`
	Repository string    `json:"repository"`
	Path       string    `json:"path"`
	Principal  string    `json:"principal"`
	Size       int64     `json:"size"`
	Time       time.Time `json:"time"`
}

// AuditSink persists audit records.
type AuditSink interface {
	Record(ctx context.Context, record AuditRecord) error
}

// LogAuditSink writes audit records to the structured log.
type LogAuditSink struct {
	log *slog.Logger
}

func NewLogAuditSink(log *slog.Logger) *LogAuditSink {
	return &LogAuditSink{log: log.With("component", "audit")}
}

func (s *LogAuditSink) Record(ctx context.Context, record AuditRecord) error {
	s.log.InfoContext(ctx, "Deploy recorded",
		slog.String("id", record.ID.String()),
		slog.String("repository", record.Repository),
		slog.String("path", record.Path),
		slog.String("principal", record.Principal),
		slog.Int64("size", record.Size),
		slog.Time("time", record.Time))
	return nil
}

var auditSchema = []string{
	`CREATE TABLE IF NOT EXISTS deploy_audit (
		id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		path TEXT NOT NULL,
		principal TEXT NOT NULL,
		size INTEGER NOT NULL,
		deployed_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS deploy_audit_repository ON deploy_audit (repository, deployed_at);`,
}

// SQLiteAuditSink keeps audit records in a SQLite database.
type SQLiteAuditSink struct {
	db *sql.DB
}

// sqliteDSN adds a busy timeout to dsn unless it already sets one.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// NewSQLiteAuditSink opens (creating if needed) the database at dsn.
func NewSQLiteAuditSink(ctx context.Context, dsn string) (*SQLiteAuditSink, error) {
	if dsn == "" {
		return nil, errors.New("audit database dsn is empty")
	}
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// The in-memory database only lives as long as its single connection
	db.SetMaxOpenConns(1)

	for _, stmt := range auditSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create audit table: %w", err)
		}
	}
	return &SQLiteAuditSink{db: db}, nil
}

func (s *SQLiteAuditSink) Record(ctx context.Context, record AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deploy_audit (id, repository, path, principal, size, deployed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID.String(), record.Repository, record.Path, record.Principal, record.Size, record.Time.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit records of a repository, newest first.
func (s *SQLiteAuditSink) Recent(ctx context.Context, repository string, limit int) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repository, path, principal, size, deployed_at FROM deploy_audit
		 WHERE repository = ? ORDER BY deployed_at DESC, rowid DESC LIMIT ?`,
		repository, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var (
			record     AuditRecord
			id         string
			deployedAt int64
		)
		if err := rows.Scan(&id, &record.Repository, &record.Path, &record.Principal, &record.Size, &deployedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if record.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid audit record id %q: %w", id, err)
		}
		record.Time = time.UnixMilli(deployedAt).UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteAuditSink) Close() error {
	return s.db.Close()
}
