package adapthttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vitals/internal/app"
	"vitals/internal/domain"
)

type contextKey string

const (
	userContextKey contextKey = "user"
	// viewKeyContextKey names the login a dashboard belongs to.
	viewKeyContextKey contextKey = "view-key"
)

const sessionCookie = "session"

// authMiddleware validates session tokens and forward auth headers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.disableAuth {
			next.ServeHTTP(w, withUser(r, localUser, "local"))
			return
		}

		// Check for Authelia forward auth header first
		if remoteUser := r.Header.Get("Remote-User"); remoteUser != "" {
			user, err := s.authSvc.ValidateForwardAuth(r.Context(), remoteUser)
			if err == nil && user != nil {
				next.ServeHTTP(w, withUser(r, user, "remote:"+user.Username))
				return
			}
		}

		// Fall back to cookie-based session
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}

		user, err := s.authSvc.ValidateSession(r.Context(), cookie.Value, r.UserAgent())
		if errors.Is(err, app.ErrSessionNotFound) || errors.Is(err, app.ErrSessionExpired) || errors.Is(err, app.ErrUserNotFound) {
			s.dashboards.Release(cookie.Value)
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		if err != nil {
			s.log.Error("validate session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errors.New("internal error"))
			return
		}

		next.ServeHTTP(w, withUser(r, user, cookie.Value))
	})
}

func withUser(r *http.Request, user *domain.User, viewKey string) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, user)
	ctx = context.WithValue(ctx, viewKeyContextKey, viewKey)
	return r.WithContext(ctx)
}

func userFrom(ctx context.Context) (*domain.User, string, bool) {
	user, ok := ctx.Value(userContextKey).(*domain.User)
	key, _ := ctx.Value(viewKeyContextKey).(string)
	return user, key, ok && user != nil
}

// statusRecorder captures the response status for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer's Flush.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
