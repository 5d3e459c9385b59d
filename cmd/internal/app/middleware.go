package app

import (
	"log/slog"
	"net/http"
	"time"

	"arclink/cmd/internal/auth/session"
)

// WithRequestLogging wraps an http.RoundTripper and logs every exchange.
// It sits below the session gateway, so a refresh and its replay show up
// as separate lines sharing one request_id.
func WithRequestLogging(next http.RoundTripper, log *slog.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if log == nil {
		log = slog.Default()
	}
	return &loggingTransport{next: next, log: log}
}

type loggingTransport struct {
	next http.RoundTripper
	log  *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		t.log.Warn("http.client.fail",
			"method", req.Method,
			"path", req.URL.Path,
			"duration_ms", elapsed,
			"request_id", req.Header.Get(session.RequestIDHeader),
			"err", err,
		)
		return nil, err
	}

	level, result := requestLogMeta(resp.StatusCode)
	t.log.Log(req.Context(), level, "http.client.request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"status_class", statusClass(resp.StatusCode),
		"duration_ms", elapsed,
		"request_id", req.Header.Get(session.RequestIDHeader),
		"result", result,
	)
	return resp, nil
}

// requestLogMeta maps a response status to a log level and result label.
func requestLogMeta(status int) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "server_error"
	case status >= 400:
		return slog.LevelWarn, "client_error"
	case status >= 300:
		return slog.LevelInfo, "redirect"
	default:
		return slog.LevelInfo, "success"
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
