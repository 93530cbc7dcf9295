package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLoggerLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/products", nil))

		out := buf.String()
		if !strings.Contains(out, tt.level) || !strings.Contains(out, "path=/api/products") {
			t.Errorf("status %d: log = %q, want %s", tt.status, out, tt.level)
		}
	}
}

func TestRequestLoggerRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	var seen string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "trace-123" || rec.Header().Get(RequestIDHeader) != "trace-123" {
		t.Errorf("client ID not kept: ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), "request_id=trace-123") {
		t.Errorf("log = %q", buf.String())
	}
	if strings.Contains(buf.String(), "member_id") {
		t.Error("anonymous request logged a member_id")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 || got != seen {
		t.Errorf("generated ID = %q, ctx = %q", got, seen)
	}
}
