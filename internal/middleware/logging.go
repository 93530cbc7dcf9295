package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/daostore/internal/metrics"
)

// RequestIDHeader carries the request ID. A client-supplied value is kept
// so calls can be correlated across services.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

type requestInfoKey struct{}

// requestInfo is filled in by inner handlers and read back by
// RequestLogger once the request completes.
type requestInfo struct {
	id       string
	memberID int64
}

// RequestID returns the ID RequestLogger assigned to the request.
func RequestID(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info.id
	}
	return ""
}

func noteMember(ctx context.Context, memberID int64) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.memberID = memberID
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RequestLogger assigns a request ID and writes one access log line per
// request. Authenticated requests also log the member ID. 5xx logs at
// error, 4xx at warn.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			info := &requestInfo{id: id}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", RealIP(r)),
			}
			if info.memberID != 0 {
				attrs = append(attrs, slog.Int64("member_id", info.memberID))
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request", attrs...)
		})
	}
}

// Metrics records Prometheus request metrics.
func Metrics(next http.Handler) http.Handler {
	return metrics.InstrumentHandler(next)
}
