package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithComponentReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Output: &buf})

	logger.WithComponent(ComponentRefresher).Info("tick")

	out := buf.String()
	if strings.Count(out, "component=") != 1 {
		t.Fatalf("expected a single component attribute, got %q", out)
	}
	if !strings.Contains(out, "component=refresher") {
		t.Fatalf("expected refresher component, got %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn should be logged")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q expected %v, got %v", in, want, got)
		}
	}
}

func TestLogFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	fields := NewFields().
		WithOperation(OpPoll).
		WithCounts(3, 5).
		WithError(errors.New("boom"))
	logger.LogFields(context.Background(), slog.LevelInfo, "poll", fields)

	out := buf.String()
	for _, want := range []string{"operation=poll", "previous_count=3", "count=5", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestToSliceIsSorted(t *testing.T) {
	got := NewFields().WithOperation(OpList).WithComponent(ComponentAPI).ToSlice()
	if len(got) != 4 || got[0] != FieldComponent || got[2] != FieldOperation {
		t.Fatalf("unexpected slice %v", got)
	}
}
