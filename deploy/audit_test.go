package deploy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteAuditSink(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteAuditSink(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer sink.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []AuditRecord{
		{ID: uuid.New(), Repository: "releases", Path: "com/acme/lib/1.0/lib-1.0.jar", Principal: "ci", Size: 200, Time: base},
		{ID: uuid.New(), Repository: "releases", Path: "com/acme/lib/1.1/lib-1.1.jar", Principal: "ci", Size: 900, Time: base.Add(time.Minute)},
		{ID: uuid.New(), Repository: "snapshots", Path: "com/acme/lib/2.0-SNAPSHOT/lib.jar", Principal: "dev", Size: 1, Time: base},
	}
	for _, record := range records {
		require.NoError(t, sink.Record(ctx, record))
	}

	recent, err := sink.Recent(ctx, "releases", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, records[1], recent[0])
	assert.Equal(t, records[0], recent[1])

	recent, err = sink.Recent(ctx, "releases", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, records[1].ID, recent[0].ID)

	// Duplicate ids are rejected
	assert.Error(t, sink.Record(ctx, records[0]))
}

func TestSQLiteAuditSink_InMemory(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteAuditSink(ctx, ":memory:")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Record(ctx, AuditRecord{ID: uuid.New(), Repository: "releases", Path: "a.jar", Time: time.Now()}))
	recent, err := sink.Recent(ctx, "releases", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		dsn      string
		expected string
	}{
		{dsn: "/var/lib/artifacts/audit.db", expected: "/var/lib/artifacts/audit.db?_pragma=busy_timeout(5000)"},
		{dsn: "audit.db?_pragma=journal_mode(WAL)", expected: "audit.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{dsn: "audit.db?_pragma=busy_timeout(100)", expected: "audit.db?_pragma=busy_timeout(100)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, sqliteDSN(tt.dsn), tt.dsn)
	}
}

func TestSQLiteAuditSink_DSNWithQuery(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteAuditSink(ctx, filepath.Join(t.TempDir(), "audit.db")+"?_pragma=journal_mode(WAL)")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Record(ctx, AuditRecord{ID: uuid.New(), Repository: "releases", Path: "a.jar", Time: time.Now()}))
	recent, err := sink.Recent(ctx, "releases", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	_, err = NewSQLiteAuditSink(ctx, "")
	assert.Error(t, err)
}

func TestLogAuditSink(t *testing.T) {
	sink := NewLogAuditSink(testLogger)
	assert.NoError(t, sink.Record(context.Background(), AuditRecord{ID: uuid.New(), Repository: "releases"}))
}
