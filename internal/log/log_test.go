package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fleetledger/internal/core"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf, Component: ComponentTrip})

	logger.Debug("hidden")
	logger.Info("Trip started", FieldTripID, "t1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry[FieldComponent] != ComponentTrip || entry[FieldTripID] != "t1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "console", Output: &buf})
	logger.Debug("rate refreshed", FieldCurrency, "UZS")
	if !strings.Contains(buf.String(), "rate refreshed") || !strings.Contains(buf.String(), "UZS") {
		t.Errorf("console output = %q", buf.String())
	}
	if logger.Component() != ComponentApp {
		t.Errorf("default component = %q", logger.Component())
	}
}

func TestFields(t *testing.T) {
	f := NewFields().
		WithTrip(core.Trip{ID: "t1", DriverID: "d1", Version: 3}).
		WithMoney(core.NewMoney(1500, core.USD)).
		WithError(errors.New("boom")).
		WithError(nil).
		WithRequestID("")

	if f[FieldTripID] != "t1" || f[FieldDriverID] != "d1" || f[FieldVersion] != int64(3) {
		t.Errorf("trip fields = %v", f)
	}
	if f[FieldAmountMinor] != int64(1500) || f[FieldCurrency] != "USD" {
		t.Errorf("money fields = %v", f)
	}
	if f[FieldError] != "boom" {
		t.Errorf("error field = %v", f[FieldError])
	}
	if _, ok := f[FieldRequestID]; ok {
		t.Error("empty request id should be omitted")
	}
	if got := len(f.ToSlice()); got != 2*len(f) {
		t.Errorf("ToSlice length = %d", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	handler := Middleware(base)(RequestIDMiddleware(func(r *http.Request) string {
		return r.Header.Get("X-Request-Id")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).InfoContext(r.Context(), "handled")
	})))

	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("X-Request-Id", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestFromContext_Default(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Errorf("FromContext() = %+v", l)
	}
}

func TestLogHTTPEnd_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})
	sl := NewStructuredLogger(logger)
	ctx := NewContext(context.Background(), logger)

	req := httptest.NewRequest(http.MethodPost, "/trips/t1/complete", nil)
	sl.LogHTTPEnd(ctx, req, http.StatusConflict, 12, "10.0.0.1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["level"] != "WARN" || entry[FieldStatusCode] != float64(409) || entry[FieldSuccess] != false {
		t.Errorf("entry = %v", entry)
	}
}
