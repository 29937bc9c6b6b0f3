package logsvc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/feeledger/core"
)

func newObservedLogger(t *testing.T) (*RollbarLogger, *observer.ObservedLogs) {
	t.Helper()
	obsCore, logs := observer.New(zapcore.DebugLevel)
	l := NewRollbarLogger(zap.New(obsCore), &core.Config{Env: "TEST", Build: "test"})
	l.Enable(false)
	return l, logs
}

func TestRollbarLogger_levels(t *testing.T) {
	l, logs := newObservedLogger(t)

	tests := []struct {
		name  string
		log   func(msg string, args ...interface{})
		level zapcore.Level
	}{
		{name: "debug", log: l.Debug, level: zapcore.DebugLevel},
		{name: "info", log: l.Info, level: zapcore.InfoLevel},
		{name: "warn", log: l.Warn, level: zapcore.WarnLevel},
		{name: "error", log: l.Error, level: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.log("ledger " + tt.name)
			entries := logs.TakeAll()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, "ledger "+tt.name, entries[0].Message)
		})
	}
}

func TestRollbarLogger_fields(t *testing.T) {
	l, logs := newObservedLogger(t)

	l.Warn("payment reference replayed",
		errors.New("boom"),
		core.Actor{ID: "bursar-1", Name: "Jane"},
		core.Actor{ID: "ignored"},
		map[string]interface{}{"ledger": "L-1"},
		42,
	)

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "Jane (bursar-1)", fields["actor"])
	assert.Equal(t, "L-1", fields["ledger"])
	assert.EqualValues(t, 42, fields["arg4"])
	assert.Len(t, fields, 4)
}
