package app

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"arclink/cmd/internal/auth/session"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 401, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithRequestLogging_LogsExchange(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	c := &http.Client{Transport: WithRequestLogging(nil, log)}

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/chatbot/chats/", nil)
	req.Header.Set(session.RequestIDHeader, "req-1")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	_ = resp.Body.Close()

	line := buf.String()
	for _, want := range []string{
		`"msg":"http.client.request"`,
		`"level":"WARN"`,
		`"path":"/chatbot/chats/"`,
		`"status":418`,
		`"request_id":"req-1"`,
		`"result":"client_error"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("log=%q missing %q", line, want)
		}
	}
}

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) { return nil, f.err }

func TestWithRequestLogging_TransportError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	boom := errors.New("connection refused")
	rt := WithRequestLogging(failingTransport{err: boom}, log)

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.invalid/x", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, boom) {
		t.Fatalf("err=%v want=%v", err, boom)
	}
	if !strings.Contains(buf.String(), `"msg":"http.client.fail"`) {
		t.Fatalf("log=%q", buf.String())
	}
}
