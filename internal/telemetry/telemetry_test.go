package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-call/internal/config"
	"go.opentelemetry.io/otel"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info").Info("hello", "session_id", "s1")

	if !strings.Contains(buf.String(), `"session_id":"s1"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}
}

func TestSetupServesMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.ExportLogs = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tel, err := Setup(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tel.Shutdown(context.Background())

	if tel.MetricsHandler == nil {
		t.Fatalf("expected a metrics handler")
	}

	counter, err := otel.Meter("telemetry-test").Int64Counter("ema_call_test_requests")
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}
	counter.Add(context.Background(), 1)

	recorder := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(recorder.Body.String(), "ema_call_test_requests") {
		t.Fatalf("expected counter in scrape output, got:\n%s", recorder.Body.String())
	}
}
