// Package config loads server settings from defaults, an optional config
// file and IRONWARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmcleod/ironward/internal/util"
	"github.com/jmcleod/ironward/ratelimit"
	"github.com/jmcleod/ironward/session"
	"github.com/jmcleod/ironward/sweeper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "IRONWARD"

// Storage backends accepted by Storage.Backend.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bbolt"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Server   Server   `mapstructure:"server"`
	Storage  Storage  `mapstructure:"storage"`
	Security Security `mapstructure:"security"`
	Log      Log      `mapstructure:"log"`
}

type Server struct {
	Port           int      `mapstructure:"port"`
	DataDir        string   `mapstructure:"data_dir"`
	TLSCert        string   `mapstructure:"tls_cert"`
	TLSKey         string   `mapstructure:"tls_key"`
	Insecure       bool     `mapstructure:"insecure"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	// RequestsPerSecond caps all traffic; zero disables the throttle.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// AuditWebhookURL receives audit events as JSON when set.
	AuditWebhookURL    string `mapstructure:"audit_webhook_url"`
	AuditWebhookHeader string `mapstructure:"audit_webhook_header"`
}

type Storage struct {
	Backend       string `mapstructure:"backend"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	SQLitePath    string `mapstructure:"sqlite_path"`
}

// Security holds the tunables of the security core.
type Security struct {
	// MasterKey is a hex or base64 encoded 32-byte key. It is required for
	// every backend except memory; with memory an empty value selects an
	// ephemeral key.
	MasterKey          string        `mapstructure:"master_key"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	LoginMaxAttempts   int           `mapstructure:"login_max_attempts"`
	LoginWindow        time.Duration `mapstructure:"login_window"`
	LockoutDuration    time.Duration `mapstructure:"lockout_duration"`
	IPMaxAttempts      int           `mapstructure:"ip_max_attempts"`
	PasswordIterations int           `mapstructure:"password_iterations"`
	// PreviousPasswordIterations lists counts that stored hashes may still
	// use after PasswordIterations is raised. Verification tries them in
	// order once the current count fails.
	PreviousPasswordIterations []int `mapstructure:"previous_password_iterations"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoginPolicy returns the per-identifier rate limit policy.
func (s Security) LoginPolicy() ratelimit.Policy {
	return ratelimit.Policy{
		MaxAttempts: s.LoginMaxAttempts,
		Window:      s.LoginWindow,
		Lockout:     s.LockoutDuration,
	}
}

// IPPolicy returns the per-client-address rate limit policy.
func (s Security) IPPolicy() ratelimit.Policy {
	return ratelimit.Policy{
		MaxAttempts: s.IPMaxAttempts,
		Window:      s.LoginWindow,
		Lockout:     s.LockoutDuration,
	}
}

// DefaultSecurity returns the security settings used when nothing is
// configured.
func DefaultSecurity() Security {
	return Security{
		SessionTTL:         session.DefaultTTL,
		SweepInterval:      sweeper.DefaultInterval,
		LoginMaxAttempts:   ratelimit.DefaultMaxAttempts,
		LoginWindow:        ratelimit.DefaultWindow,
		LockoutDuration:    ratelimit.DefaultLockout,
		IPMaxAttempts:      20,
		PasswordIterations: util.DefaultPBKDF2Iterations,
	}
}

var keys = []string{
	"server.port",
	"server.data_dir",
	"server.tls_cert",
	"server.tls_key",
	"server.insecure",
	"server.trusted_proxies",
	"server.requests_per_second",
	"server.burst",
	"server.audit_webhook_url",
	"server.audit_webhook_header",
	"storage.backend",
	"storage.postgres_dsn",
	"storage.redis_addr",
	"storage.redis_password",
	"storage.redis_db",
	"storage.redis_prefix",
	"storage.sqlite_path",
	"security.master_key",
	"security.session_ttl",
	"security.sweep_interval",
	"security.login_max_attempts",
	"security.login_window",
	"security.lockout_duration",
	"security.ip_max_attempts",
	"security.password_iterations",
	"security.previous_password_iterations",
	"log.level",
	"log.format",
}

// New returns a viper instance with defaults and environment bindings
// applied. Callers may bind command-line flags to it before calling Load.
func New() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	setDefaults(v)
	if err := bindEnvs(v, keys); err != nil {
		return nil, err
	}
	v.AutomaticEnv()
	return v, nil
}

// Load reads file (when non-empty) into v and unmarshals and validates the
// result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultSecurity()

	v.SetDefault("server.port", 8443)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.insecure", false)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.requests_per_second", 100.0)
	v.SetDefault("server.burst", 200)

	v.SetDefault("storage.backend", BackendBolt)
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "ironward")

	v.SetDefault("security.session_ttl", d.SessionTTL)
	v.SetDefault("security.sweep_interval", d.SweepInterval)
	v.SetDefault("security.login_max_attempts", d.LoginMaxAttempts)
	v.SetDefault("security.login_window", d.LoginWindow)
	v.SetDefault("security.lockout_duration", d.LockoutDuration)
	v.SetDefault("security.ip_max_attempts", d.IPMaxAttempts)
	v.SetDefault("security.password_iterations", d.PasswordIterations)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, EnvPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate rejects settings the security core would panic on, and persistent
// backends without a master key.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("server.requests_per_second must not be negative"))
	}
	if c.Server.RequestsPerSecond > 0 && c.Server.Burst <= 0 {
		errs = append(errs, errors.New("server.burst must be positive when throttling"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendBolt:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for the redis backend"))
		}
	case BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if c.Storage.Backend != BackendMemory && c.Security.MasterKey == "" {
		errs = append(errs, fmt.Errorf("security.master_key is required for the %s backend", c.Storage.Backend))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate rejects non-positive durations and counts.
func (s Security) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("security.%s must be positive", name))
		}
	}
	positive("session_ttl", s.SessionTTL)
	positive("sweep_interval", s.SweepInterval)
	positive("login_window", s.LoginWindow)
	positive("lockout_duration", s.LockoutDuration)
	if s.LoginMaxAttempts <= 0 {
		errs = append(errs, errors.New("security.login_max_attempts must be positive"))
	}
	if s.IPMaxAttempts <= 0 {
		errs = append(errs, errors.New("security.ip_max_attempts must be positive"))
	}
	if s.PasswordIterations < util.MinPBKDF2Iterations {
		errs = append(errs, fmt.Errorf("security.password_iterations must be at least %d", util.MinPBKDF2Iterations))
	}
	for _, n := range s.PreviousPasswordIterations {
		if n < util.MinPBKDF2Iterations {
			errs = append(errs, fmt.Errorf("security.previous_password_iterations entry %d is below %d", n, util.MinPBKDF2Iterations))
		}
	}
	return errors.Join(errs...)
}
