package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"arclink/cmd/internal/observability"
)

// Server is the development backend.
type Server struct {
	log *slog.Logger
	cfg Config
	now func() time.Time

	dir     *directory
	access  *accessTokens
	refresh *refreshTokens
	rooms   *rooms
}

// New builds a Server and seeds its users.
func New(log *slog.Logger, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	dir, err := newDirectory(cfg.Users)
	if err != nil {
		return nil, err
	}
	access, err := newAccessTokens(cfg)
	if err != nil {
		return nil, err
	}
	refresh, err := newRefreshTokens(cfg)
	if err != nil {
		return nil, err
	}
	return &Server{
		log:     log,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		dir:     dir,
		access:  access,
		refresh: refresh,
		rooms:   newRooms(log),
	}, nil
}

// Handler returns the routed, logged HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	p := strings.TrimRight(s.cfg.APIPrefix, "/")

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("POST "+p+"/auth/jwt/create/", s.handleLogin)
	mux.HandleFunc("POST "+p+"/auth/jwt/refresh/", s.handleRefresh)
	mux.HandleFunc("POST "+p+"/auth/jwt/logout/", s.handleLogout)
	mux.HandleFunc("GET "+p+"/auth/users/me/", s.requireUser(s.handleMe))
	mux.HandleFunc("GET "+p+"/chatbot/chats/", s.requireUser(s.handleListChats))
	mux.HandleFunc("POST "+p+"/chatbot/chats/", s.requireUser(s.handleCreateChat))

	mux.HandleFunc("GET /ws/chat/{chat_id}/", s.handleChat)

	return withRequestLogging(mux, s.log)
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.log.Info("devserver.start", "addr", ln.Addr().String(), "api_prefix", s.cfg.APIPrefix, "access_ttl", s.cfg.AccessTTL.String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("devserver.stop", "reason", "context_done")
	case err := <-errCh:
		s.log.Error("devserver.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.rooms.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("devserver.shutdown.fail", "err", err)
		return err
	}
	s.log.Info("devserver.stopped")
	return nil
}
