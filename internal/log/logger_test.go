package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{Level: slog.LevelDebug, Format: "text", Component: component, Output: buf})
}

func TestLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentReport)

	logger.Info("Report built", FieldConvenioID, 7)
	line := buf.String()
	if !strings.Contains(line, "component=report") || !strings.Contains(line, "convenio_id=7") {
		t.Fatalf("unexpected log line: %q", line)
	}

	buf.Reset()
	logger.With(FieldRequestID, "req_1").WithComponent(ComponentHTTP).Info("hello")
	line = buf.String()
	if strings.Count(line, "component=") != 1 || !strings.Contains(line, "component=http") {
		t.Fatalf("expected a single http component, got %q", line)
	}
	if !strings.Contains(line, "request_id=req_1") {
		t.Fatalf("expected request id to survive WithComponent, got %q", line)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf})
	logger.LogError(context.Background(), "Export failed", errors.New("boom"), OpExport, NewFields().WithConvenio(3))

	line := buf.String()
	for _, want := range []string{`"component":"app"`, `"error":"boom"`, `"operation":"export"`, `"convenio_id":3`} {
		if !strings.Contains(line, want) {
			t.Errorf("missing %s in %s", want, line)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg := ConfigFromEnv(ComponentWorker)
	if cfg.Level != slog.LevelWarn {
		t.Errorf("level = %v, want warn", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("format = %q, want json", cfg.Format)
	}
	if cfg.Component != ComponentWorker {
		t.Errorf("component = %q, want worker", cfg.Component)
	}
}

func TestMiddlewareAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentHTTP)

	handler := Middleware(logger)(RequestIDMiddleware(func(r *http.Request) string {
		return r.Header.Get("X-Request-ID")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).InfoContext(r.Context(), "inside")
	})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=req_abc") {
		t.Fatalf("expected request id in %q", buf.String())
	}
}

func TestLogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "level=INFO"},
		{404, "level=WARN"},
		{504, "level=ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := newBufferLogger(&buf, ComponentHTTP)
		req := httptest.NewRequest(http.MethodGet, "/api/convenios/1/presupuesto", nil)
		logger.LogHTTPEnd(context.Background(), req, tt.status, 12, "10.0.0.1")
		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("status %d: expected %s in %q", tt.status, tt.level, buf.String())
		}
	}
}

func TestFromContextFallback(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != ComponentApp {
		t.Fatalf("unexpected fallback logger: %+v", l)
	}
}
