package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerWritesLevelsAndAttrs(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	log.Debug(ctx, "cas retry", "attempt", 2)
	log.Info(ctx, "server started", "addr", ":8080")
	log.Warn(ctx, "stale device pruned", "deviceId", "d1")
	log.Error(ctx, "flush failed", "slice", "faults")

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "cas retry")
	assert.Contains(t, out, "attempt=2")
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "level=ERROR")
}

func TestSlogLoggerWithCarriesAttrs(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	child := log.With("raceId", "spring-cup")
	require.IsType(t, &SlogLogger{}, child)

	child.Info(ctx, "document updated")
	assert.Contains(t, buf.String(), "raceId=spring-cup")
}
