package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"balanz/internal/auth"
	applog "balanz/internal/log"
)

type sessionContextKey struct{}

// sessionFromContext returns the verified session placed by withSession.
func sessionFromContext(ctx context.Context) auth.Session {
	sess, _ := ctx.Value(sessionContextKey{}).(auth.Session)
	return sess
}

// withSession verifies the bearer token and injects the session into the
// request context. Handlers behind it can assume a valid session.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		sess, err := s.sessions.Verify(strings.TrimSpace(token), time.Now())
		if err != nil {
			status := http.StatusUnauthorized
			msg := "invalid session token"
			if err == auth.ErrSessionExpired {
				msg = "session expired"
			}
			writeError(w, status, msg)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next(w, r.WithContext(ctx))
	}
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type createSessionResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleCreateSession issues a signed session token for a user id. Identity
// verification is expected to happen upstream (reverse proxy or identity
// provider); this endpoint only mints tokens for the configured secret.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := sanitizeInput(req.UserID)
	if userID == "" {
		writeError(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}

	sess, token, err := s.sessions.Issue(userID, time.Now())
	if err != nil {
		applog.FromContext(r.Context()).Error("Failed to issue session",
			applog.FieldError, err,
			applog.FieldUserID, userID)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		Token:     token,
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt,
	})
}
