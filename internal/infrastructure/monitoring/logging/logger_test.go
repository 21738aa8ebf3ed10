package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: "debug", Format: format, OutputPaths: []string{"stdout"}})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_BadOutputPath(t *testing.T) {
	_, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/regscan/out.log"}})
	assert.Error(t, err)
}

func TestNewLeveledLogger_ChangeLevel(t *testing.T) {
	l, level, err := NewLeveledLogger(LogConfig{Level: "warn", OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, zapcore.WarnLevel, level.Level())

	level.SetLevel(ParseLevel("debug"))
	assert.True(t, level.Enabled(zapcore.DebugLevel))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestZapLogger_FieldsAreEncoded(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)

	ts := time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)
	l.Info("merge finished",
		String("run_id", "r-1"),
		Strings("sources", []string{"fda", "ema"}),
		Int("groups", 3),
		Int64("facts", 7),
		Float64("ratio", 0.5),
		Bool("ok", true),
		Time("at", ts),
		Duration("took", time.Second),
		Err(errors.New("boom")),
		Any("extra", map[string]int{"a": 1}),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "r-1", ctx["run_id"])
	assert.Equal(t, int64(3), ctx["groups"])
	assert.Equal(t, int64(7), ctx["facts"])
	assert.Equal(t, true, ctx["ok"])
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, time.Second, ctx["took"])
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)

	child := l.Named("merge").With(String("run_id", "r-2"))
	child.Warn("conflict")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "merge", entry.LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "r-2", entry.ContextMap()["run_id"])
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	l, logs := newObservedLogger(zapcore.WarnLevel)

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	assert.Equal(t, 2, logs.Len())
}

func TestErr_NilError(t *testing.T) {
	f := Err(nil)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "<nil>", f.Value)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("msg")
		l.Info("msg")
		l.Warn("msg")
		l.Error("msg")
		_ = l.With(String("k", "v")).Named("x").Sync()
	})
}

func TestDefault_SetAndGet(t *testing.T) {
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	l, _ := newObservedLogger(zapcore.InfoLevel)
	SetDefault(l)
	assert.Same(t, l, Default())

	SetDefault(nil)
	assert.Same(t, l, Default())
}
