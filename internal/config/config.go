// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vitals/internal/domain"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Change notifiers. NotifierAuto picks the store's native mechanism.
const (
	NotifierAuto     = "auto"
	NotifierMemory   = "memory"
	NotifierPostgres = "postgres"
	NotifierRedis    = "redis"
)

// OIDC holds single sign-on settings. SSO is enabled when Issuer is set.
type OIDC struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether SSO is configured.
func (o OIDC) Enabled() bool { return o.Issuer != "" }

// Redis holds the Redis connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Config is the full server configuration.
type Config struct {
	Addr        string
	WebDir      string
	Store       string
	DatabaseURL string
	SQLitePath  string
	Notifier    string
	Redis       Redis
	LogLevel    string
	LogFormat   string
	OIDC        OIDC
	// DisableAuth serves every request as a single local user.
	DisableAuth bool

	DashboardTTL time.Duration
	DashboardMax int
	ChartUnit    domain.Unit
}

// Load reads the configuration through getenv (usually os.Getenv) and
// validates it.
func Load(getenv func(string) string) (Config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	var errs []error
	cfg := Config{
		Addr:        env("ADDR", ":8080"),
		WebDir:      env("WEB_DIR", "web"),
		Store:       strings.ToLower(env("STORE", "")),
		DatabaseURL: env("DATABASE_URL", ""),
		SQLitePath:  env("SQLITE_PATH", "data/vitals.db"),
		Notifier:    strings.ToLower(env("NOTIFIER", NotifierAuto)),
		Redis: Redis{
			Addr:     env("REDIS_ADDR", "localhost:6379"),
			Password: env("REDIS_PASSWORD", ""),
		},
		LogLevel:  env("LOG_LEVEL", "info"),
		LogFormat: env("LOG_FORMAT", "json"),
		OIDC: OIDC{
			Issuer:       env("OIDC_ISSUER", ""),
			ClientID:     env("OIDC_CLIENT_ID", ""),
			ClientSecret: env("OIDC_CLIENT_SECRET", ""),
			RedirectURL:  env("OIDC_REDIRECT_URL", ""),
		},
	}

	if cfg.Store == "" {
		cfg.Store = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.Store = StorePostgres
		}
	}
	switch cfg.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE: unknown backend %q", cfg.Store))
	}

	switch cfg.Notifier {
	case NotifierAuto, NotifierMemory, NotifierRedis:
	case NotifierPostgres:
		if cfg.Store != StorePostgres {
			errs = append(errs, errors.New("NOTIFIER=postgres requires STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("NOTIFIER: unknown notifier %q", cfg.Notifier))
	}

	var err error
	if cfg.Redis.DB, err = strconv.Atoi(env("REDIS_DB", "0")); err != nil {
		errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
	}
	if cfg.DisableAuth, err = strconv.ParseBool(env("DISABLE_AUTH", "false")); err != nil {
		errs = append(errs, fmt.Errorf("DISABLE_AUTH: %w", err))
	}
	if cfg.DashboardTTL, err = time.ParseDuration(env("DASHBOARD_TTL", "30m")); err != nil {
		errs = append(errs, fmt.Errorf("DASHBOARD_TTL: %w", err))
	} else if cfg.DashboardTTL <= 0 {
		errs = append(errs, errors.New("DASHBOARD_TTL must be positive"))
	}
	if cfg.DashboardMax, err = strconv.Atoi(env("DASHBOARD_MAX", "1024")); err != nil {
		errs = append(errs, fmt.Errorf("DASHBOARD_MAX: %w", err))
	} else if cfg.DashboardMax <= 0 {
		errs = append(errs, errors.New("DASHBOARD_MAX must be positive"))
	}
	if cfg.ChartUnit, err = domain.ParseUnit(env("CHART_UNIT", ""), domain.UnitKg); err != nil {
		errs = append(errs, fmt.Errorf("CHART_UNIT: %w", err))
	}

	if cfg.OIDC.Enabled() && (cfg.OIDC.ClientID == "" || cfg.OIDC.RedirectURL == "") {
		errs = append(errs, errors.New("OIDC_CLIENT_ID and OIDC_REDIRECT_URL are required when OIDC_ISSUER is set"))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}
