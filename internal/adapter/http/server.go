package adapthttp

import (
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"vitals/internal/app"
	"vitals/internal/domain"
)

// OIDCConfig holds the SSO provider. A zero value disables SSO.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config oauth2.Config
}

// localUser serves every request when authentication is disabled.
var localUser = &domain.User{ID: 1, Username: "local"}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	dashboards *app.Dashboards
	authSvc    *app.AuthService
	projector  app.Projector
	oidcConfig OIDCConfig
	metrics    http.Handler
	webDir     string
	log        *zap.Logger

	// firstLoadWait bounds how long a snapshot waits for the feed's first
	// delivery.
	firstLoadWait time.Duration
	disableAuth   bool
}

// New creates a Server wired to the given application services.
func New(dashboards *app.Dashboards, authSvc *app.AuthService, projector app.Projector, webDir string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		dashboards:    dashboards,
		authSvc:       authSvc,
		projector:     projector,
		webDir:        webDir,
		log:           log,
		firstLoadWait: 2 * time.Second,
	}
}

// WithOIDC enables SSO login through cfg.
func (s *Server) WithOIDC(cfg OIDCConfig) *Server {
	s.oidcConfig = cfg
	return s
}

// WithMetrics serves h at /metrics.
func (s *Server) WithMetrics(h http.Handler) *Server {
	s.metrics = h
	return s
}

// WithoutAuth disables authentication; every request acts as one local
// user. Intended for tests and single-user installs behind a trusted proxy.
func (s *Server) WithoutAuth() *Server {
	s.disableAuth = true
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	api.HandleFunc("GET /config", s.handleConfig)

	api.HandleFunc("POST /auth/login", s.handleLogin)
	api.HandleFunc("POST /auth/logout", s.handleLogout)
	api.HandleFunc("POST /auth/setup", s.handleSetupUser)
	api.HandleFunc("GET /auth/sso/login", s.handleSSOLogin)
	api.HandleFunc("GET /auth/sso/callback", s.handleSSOCallback)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /auth/me", s.handleMe)
	protected.HandleFunc("GET /dashboard", s.handleDashboard)
	protected.HandleFunc("GET /dashboard/stream", s.handleDashboardStream)
	protected.HandleFunc("POST /records", s.handleSubmit)
	protected.HandleFunc("DELETE /records/{id}", s.handleRemove)
	protected.HandleFunc("POST /edit", s.handleBeginEdit)
	protected.HandleFunc("DELETE /edit", s.handleCancelEdit)
	authed := s.authMiddleware(protected)
	for _, p := range []string{"/auth/me", "/dashboard", "/dashboard/", "/records", "/records/", "/edit"} {
		api.Handle(p, authed)
	}

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	if s.metrics != nil {
		root.Handle("GET /metrics", s.metrics)
	}
	root.Handle("/", spaFromDisk(s.webDir))

	return s.loggingMiddleware(withNoCache(root))
}
