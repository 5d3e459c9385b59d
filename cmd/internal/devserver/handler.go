package devserver

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userJSON struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func toUserJSON(u *user) userJSON {
	return userJSON{ID: u.ID, Username: u.Username, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(in.Username) == "" || in.Password == "" {
		writeFailure(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.dir.authenticate(in.Username, in.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			s.log.Error("auth.login.fail", "err", err)
		}
		s.log.Info("auth.login.rejected", "username", in.Username)
		writeFailure(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := s.now()
	if !s.issueSession(w, u.ID, now) {
		return
	}
	access, _ := s.access.Issue(u.ID, now)

	s.log.Info("auth.login.ok", "user_id", u.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "access": access, "user": toUserJSON(u)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.refreshCookie(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "refresh token missing")
		return
	}

	now := s.now()
	userID, next, exp, err := s.refresh.Rotate(raw, now)
	if err != nil {
		s.clearRefreshCookie(w)
		s.log.Info("auth.refresh.rejected", "err", err)
		writeFailure(w, http.StatusUnauthorized, "refresh token invalid or expired")
		return
	}
	s.setRefreshCookie(w, next, exp)
	access, _ := s.access.Issue(userID, now)

	s.log.Info("auth.refresh.ok", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "access": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw, ok := s.refreshCookie(r); ok {
		s.refresh.Revoke(raw)
	}
	if claims, err := s.bearer(r); err == nil {
		s.refresh.RevokeUser(claims.UserID)
	}
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, toUserJSON(u))
}

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, s.dir.chatsOf(u.ID))
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request, u *user) {
	var in struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "New chat"
	}
	writeJSON(w, http.StatusCreated, s.dir.createChat(u.ID, title, s.now()))
}

type userHandler func(http.ResponseWriter, *http.Request, *user)

// requireUser rejects requests without a valid bearer access token.
func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		next(w, r, u)
	}
}

func (s *Server) authenticate(r *http.Request) (*user, error) {
	claims, err := s.bearer(r)
	if err != nil {
		return nil, err
	}
	return s.dir.userByID(claims.UserID)
}

func (s *Server) bearer(r *http.Request) (accessClaims, error) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(tok) == "" {
		return accessClaims{}, ErrInvalidToken
	}
	return s.access.Verify(strings.TrimSpace(tok), s.now())
}

func (s *Server) issueSession(w http.ResponseWriter, userID string, now time.Time) bool {
	raw, exp, err := s.refresh.Issue(userID, now)
	if err != nil {
		s.log.Error("auth.refresh.issue.fail", "err", err)
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return false
	}
	s.setRefreshCookie(w, raw, exp)
	return true
}

func (s *Server) refreshCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(s.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    value,
		Path:     s.cfg.CookiePath,
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: s.cfg.CookieSameSite,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    "",
		Path:     s.cfg.CookiePath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: s.cfg.CookieSameSite,
	})
}
