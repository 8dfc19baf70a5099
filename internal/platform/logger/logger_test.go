package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRedactsSensitiveKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	l.Info("supplier registered", "supplier_id", "sup-1", "contact_email", "grower@example.com", "postgres_dsn", "postgres://u:p@db")
	l.With("component", "ledger").Error("supersession conflict", "evidence_id", "ev-1")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	require.Equal(t, "sup-1", fields["supplier_id"])
	require.Equal(t, "[REDACTED]", fields["contact_email"])
	require.Equal(t, "[REDACTED]", fields["postgres_dsn"])
	require.Equal(t, "ledger", entries[1].ContextMap()["component"])
	require.Equal(t, zap.ErrorLevel, entries[1].Level)
}

func TestSanitizeKeepsDanglingKey(t *testing.T) {
	out := sanitizeKVs([]any{"a", 1, "dangling"})
	require.Equal(t, []any{"a", 1, "dangling"}, out)
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "development"} {
		l, err := New(mode)
		require.NoError(t, err)
		l.Debug("ok")
	}
	Nop().Warn("discarded")
}
