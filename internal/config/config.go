// Package config reads service settings from ESTATLY_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"estatly.org/internal/authz"
)

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 16

type Config struct {
	HTTPAddr string
	GRPCAddr string

	// PostgresDSN selects the Postgres store. Empty runs on the in-memory store.
	PostgresDSN string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	BindingCacheTTL time.Duration

	AuthSecret string
	AuthIssuer string
	TokenTTL   time.Duration

	AuditTimeout time.Duration
	AuditAsync   bool
	AuditQueue   int
	AuditWorkers int
	// AuditLog mirrors every ledger entry to the JSON log.
	AuditLog bool

	ScopeMode authz.ScopeMode

	RatePerSec float64
	RateBurst  int

	AdminEmail    string
	AdminPassword string
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		BindingCacheTTL: 30 * time.Second,
		AuthIssuer:      "estatly",
		TokenTTL:        time.Hour,
		AuditTimeout:    2 * time.Second,
		AuditQueue:      1024,
		AuditWorkers:    2,
		ScopeMode:       authz.ScopeIgnore,
		RatePerSec:      20,
		RateBurst:       40,
	}
}

// Load reads the given .env files (".env" when none are named) into the
// process environment without overriding variables already set, then parses
// the environment. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup parses settings through lookup, which has the os.LookupEnv shape.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()
	p := parser{lookup: lookup}

	p.str("ESTATLY_HTTP_ADDR", &cfg.HTTPAddr)
	p.str("ESTATLY_GRPC_ADDR", &cfg.GRPCAddr)
	p.str("ESTATLY_PG_DSN", &cfg.PostgresDSN)
	p.str("ESTATLY_REDIS_ADDR", &cfg.RedisAddr)
	p.str("ESTATLY_REDIS_PASSWORD", &cfg.RedisPassword)
	p.integer("ESTATLY_REDIS_DB", &cfg.RedisDB)
	p.duration("ESTATLY_BINDING_CACHE_TTL", &cfg.BindingCacheTTL)
	p.str("ESTATLY_AUTH_SECRET", &cfg.AuthSecret)
	p.str("ESTATLY_AUTH_ISSUER", &cfg.AuthIssuer)
	p.duration("ESTATLY_TOKEN_TTL", &cfg.TokenTTL)
	p.duration("ESTATLY_AUDIT_TIMEOUT", &cfg.AuditTimeout)
	p.boolean("ESTATLY_AUDIT_ASYNC", &cfg.AuditAsync)
	p.integer("ESTATLY_AUDIT_QUEUE", &cfg.AuditQueue)
	p.integer("ESTATLY_AUDIT_WORKERS", &cfg.AuditWorkers)
	p.boolean("ESTATLY_AUDIT_LOG", &cfg.AuditLog)
	p.float("ESTATLY_RATE_PER_SEC", &cfg.RatePerSec)
	p.integer("ESTATLY_RATE_BURST", &cfg.RateBurst)
	p.str("ESTATLY_ADMIN_EMAIL", &cfg.AdminEmail)
	p.str("ESTATLY_ADMIN_PASSWORD", &cfg.AdminPassword)
	if v, ok := p.get("ESTATLY_AUTHZ_SCOPE_MODE"); ok {
		mode, err := authz.ParseScopeMode(v)
		if err != nil {
			p.fail("ESTATLY_AUTHZ_SCOPE_MODE", err)
		} else {
			cfg.ScopeMode = mode
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if len(c.AuthSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("config: ESTATLY_AUTH_SECRET must be at least %d bytes", MinSecretLength))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("config: ESTATLY_HTTP_ADDR must not be empty"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("config: ESTATLY_TOKEN_TTL must be positive"))
	}
	if c.AuditTimeout <= 0 {
		errs = append(errs, errors.New("config: ESTATLY_AUDIT_TIMEOUT must be positive"))
	}
	if c.AuditAsync && (c.AuditQueue <= 0 || c.AuditWorkers <= 0) {
		errs = append(errs, errors.New("config: async audit needs a positive queue size and worker count"))
	}
	if c.RatePerSec < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("config: rate limits must not be negative"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("config: ESTATLY_ADMIN_EMAIL and ESTATLY_ADMIN_PASSWORD go together"))
	}
	return errors.Join(errs...)
}

// CacheEnabled reports whether a Redis binding cache is configured.
func (c Config) CacheEnabled() bool { return c.RedisAddr != "" }

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = f
	}
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = b
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = d
	}
}
