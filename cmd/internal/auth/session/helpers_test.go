package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"arclink/cmd/internal/auth/credential"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const refreshCookieName = "refresh_token"

// fakeService is an in-process auth service. Access tokens are opaque
// counters; only tokens in valid are accepted.
type fakeService struct {
	srv *httptest.Server

	mu            sync.Mutex
	valid         map[string]bool
	refreshCookie string
	refreshStatus int
	refreshGate   chan struct{}
	bodies        []string

	seq          atomic.Int64
	refreshCalls atomic.Int64
	meCalls      atomic.Int64
	logoutCalls  atomic.Int64
	dataCalls    atomic.Int64
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	f := &fakeService{valid: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/jwt/create/", f.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/jwt/refresh/", f.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/jwt/logout/", f.handleLogout)
	mux.HandleFunc("GET /api/v1/auth/users/me/", f.handleMe)
	mux.HandleFunc("/api/v1/data", f.handleData)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) baseURL() string { return f.srv.URL + "/api/v1" }

func (f *fakeService) issue() string {
	tok := fmt.Sprintf("access-%d", f.seq.Add(1))
	f.mu.Lock()
	f.valid[tok] = true
	f.mu.Unlock()
	return tok
}

// expireAll invalidates every outstanding access token.
func (f *fakeService) expireAll() {
	f.mu.Lock()
	f.valid = map[string]bool{}
	f.mu.Unlock()
}

func (f *fakeService) setRefreshStatus(status int) {
	f.mu.Lock()
	f.refreshStatus = status
	f.mu.Unlock()
}

func (f *fakeService) seenBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func (f *fakeService) authorized(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid[tok]
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeService) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeTestJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "bad json"})
		return
	}
	if in.Password != "secret" {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid credentials"})
		return
	}
	rt := fmt.Sprintf("rt-%d", f.seq.Add(1))
	f.mu.Lock()
	f.refreshCookie = rt
	f.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: refreshCookieName, Value: rt, Path: "/", HttpOnly: true})
	writeTestJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"access":  f.issue(),
		"user":    map[string]any{"id": 7, "username": in.Username, "email": in.Username + "@example.test"},
	})
}

func (f *fakeService) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)

	f.mu.Lock()
	gate, status, want := f.refreshGate, f.refreshStatus, f.refreshCookie
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if status != 0 {
		writeTestJSON(w, status, map[string]any{"success": false, "error": "refresh disabled"})
		return
	}
	c, err := r.Cookie(refreshCookieName)
	if err != nil || want == "" || c.Value != want {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{"detail": "no refresh cookie"})
		return
	}
	f.expireAll()
	writeTestJSON(w, http.StatusOK, map[string]any{"success": true, "access": f.issue()})
}

func (f *fakeService) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.logoutCalls.Add(1)
	f.expireAll()
	f.mu.Lock()
	f.refreshCookie = ""
	f.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: refreshCookieName, Value: "", Path: "/", MaxAge: -1})
	writeTestJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (f *fakeService) handleMe(w http.ResponseWriter, r *http.Request) {
	f.meCalls.Add(1)
	if !f.authorized(r) {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{"detail": "token not valid"})
		return
	}
	writeTestJSON(w, http.StatusOK, map[string]any{"id": 7, "username": "ada", "email": "ada@example.test"})
}

func (f *fakeService) handleData(w http.ResponseWriter, r *http.Request) {
	f.dataCalls.Add(1)
	if !f.authorized(r) {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{"detail": "token not valid"})
		return
	}
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(b))
	f.mu.Unlock()
	writeTestJSON(w, http.StatusOK, map[string]any{"method": r.Method, "body": string(b), "request_id": r.Header.Get(RequestIDHeader)})
}

type navRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (n *navRecorder) ToLogin(reason string) {
	n.mu.Lock()
	n.reasons = append(n.reasons, reason)
	n.mu.Unlock()
}

func (n *navRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reasons)
}

type harness struct {
	svc   *fakeService
	api   *APIClient
	store *credential.Keeper
	coord *Coordinator
	mgr   *Manager
	gw    *Gateway
	nav   *navRecorder
	http  *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	svc := newFakeService(t)
	cfg := DefaultConfig()
	cfg.BaseURL = svc.baseURL()

	api, err := NewAPIClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}
	store := credential.NewKeeper(nil, credential.WithLogger(quietLogger()))
	coord := NewCoordinator(quietLogger(), store, api, cfg.RefreshTimeout)
	nav := &navRecorder{}
	mgr := NewManager(quietLogger(), store, api, coord, nav)
	gw := NewGateway(quietLogger(), api.Transport(), store, coord, mgr, cfg.ExpiredStatuses)

	return &harness{
		svc:   svc,
		api:   api,
		store: store,
		coord: coord,
		mgr:   mgr,
		gw:    gw,
		nav:   nav,
		http:  gw.Client(api.Jar(), cfg.Timeout),
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	if _, err := h.mgr.Login(t.Context(), "ada", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}
