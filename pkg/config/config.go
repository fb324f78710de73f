package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinBcryptCost is the lowest hashing cost accepted for production use.
const MinBcryptCost = 12

// Config holds all application configuration
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Database      DatabaseConfig       `yaml:"database"`
	Redis         RedisConfig          `yaml:"redis"`
	Auth          AuthConfig           `yaml:"auth"`
	Password      PasswordPolicyConfig `yaml:"password"`
	Reset         ResetConfig          `yaml:"reset"`
	Session       SessionConfig        `yaml:"session"`
	RateLimit     RateLimitConfig      `yaml:"rate_limit"`
	Observability ObservabilityConfig  `yaml:"observability"`
	Housekeeping  HousekeepingConfig   `yaml:"housekeeping"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Metrics and health probes are served on a separate port.
	MetricsPort string `yaml:"metrics_port"`

	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the peer address is used.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig selects the SQL driver and pool settings.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig points the shared login throttle at Redis. Empty URL disables it.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds lockout and hashing policy.
type AuthConfig struct {
	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
	BcryptCost       int           `yaml:"bcrypt_cost"`
	AdminRoleName    string        `yaml:"admin_role_name"`
}

// PasswordPolicyConfig lists the rules a new password must satisfy.
type PasswordPolicyConfig struct {
	MinLength     int  `yaml:"min_length"`
	MaxLength     int  `yaml:"max_length"`
	RequireUpper  bool `yaml:"require_upper"`
	RequireLower  bool `yaml:"require_lower"`
	RequireDigit  bool `yaml:"require_digit"`
	RequireSymbol bool `yaml:"require_symbol"`
}

// ResetConfig controls password reset tokens.
type ResetConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
	// BaseURL prefixes the token in the reset link handed to the notifier.
	BaseURL string `yaml:"base_url"`
	// ExposeLink returns the reset link in the HTTP response instead of
	// logging it. Only for deployments without an out-of-band channel.
	ExposeLink bool `yaml:"expose_link"`
}

// SessionConfig controls session lifetime and cookie scoping.
type SessionConfig struct {
	Lifetime    time.Duration `yaml:"lifetime"`
	CookieName  string        `yaml:"cookie_name"`
	CookiePath  string        `yaml:"cookie_path"`
	MaxSessions int           `yaml:"max_sessions"`
}

// RateLimitConfig throttles login and reset requests per client address.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LoginPerWindow int           `yaml:"login_per_window"`
	ResetPerWindow int           `yaml:"reset_per_window"`
	Window         time.Duration `yaml:"window"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel           string `yaml:"log_level"`
	LogFormat          string `yaml:"log_format"`
	MetricsEnabled     bool   `yaml:"metrics_enabled"`
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// HousekeepingConfig schedules background cleanup with a cron expression.
type HousekeepingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			MetricsPort:     "9090",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  10 * time.Second,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			LockoutThreshold: 5,
			LockoutDuration:  15 * time.Minute,
			BcryptCost:       MinBcryptCost,
			AdminRoleName:    "Admin",
		},
		Password: PasswordPolicyConfig{
			MinLength:     8,
			MaxLength:     72,
			RequireUpper:  true,
			RequireLower:  true,
			RequireDigit:  true,
			RequireSymbol: true,
		},
		Reset: ResetConfig{
			TokenTTL: time.Hour,
			BaseURL:  "http://localhost:8080/reset-password",
		},
		Session: SessionConfig{
			Lifetime:    time.Hour,
			CookieName:  "college_session",
			CookiePath:  "/",
			MaxSessions: 10000,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			LoginPerWindow: 20,
			ResetPerWindow: 5,
			Window:         time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelServiceName:    "collegeadmin",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
		},
		Housekeeping: HousekeepingConfig{
			Enabled:  true,
			Schedule: "@every 15m",
		},
	}
}

// LoadConfig builds configuration from defaults, an optional YAML file named by
// COLLEGE_CONFIG_FILE, and COLLEGE_* environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("COLLEGE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("COLLEGE_HOST", s.Host)
	s.Port = getEnv("COLLEGE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("COLLEGE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("COLLEGE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("COLLEGE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("COLLEGE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.TLSCertFile = getEnv("COLLEGE_TLS_CERT_FILE", s.TLSCertFile)
	s.TLSKeyFile = getEnv("COLLEGE_TLS_KEY_FILE", s.TLSKeyFile)
	s.MaxBodyBytes = getEnvInt64("COLLEGE_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.MetricsPort = getEnv("COLLEGE_METRICS_PORT", s.MetricsPort)
	s.TrustedProxies = getEnvList("COLLEGE_TRUSTED_PROXIES", s.TrustedProxies)

	d := &c.Database
	d.Driver = getEnv("COLLEGE_DB_DRIVER", d.Driver)
	d.URL = getEnv("COLLEGE_DB_URL", d.URL)
	d.MaxOpenConns = getEnvInt("COLLEGE_DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("COLLEGE_DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("COLLEGE_DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnectTimeout = getEnvDuration("COLLEGE_DB_CONNECT_TIMEOUT", d.ConnectTimeout)
	d.AutoMigrate = getEnvBool("COLLEGE_DB_AUTO_MIGRATE", d.AutoMigrate)

	c.Redis.URL = getEnv("COLLEGE_REDIS_URL", c.Redis.URL)

	a := &c.Auth
	a.LockoutThreshold = getEnvInt("COLLEGE_LOCKOUT_THRESHOLD", a.LockoutThreshold)
	a.LockoutDuration = getEnvDuration("COLLEGE_LOCKOUT_DURATION", a.LockoutDuration)
	a.BcryptCost = getEnvInt("COLLEGE_BCRYPT_COST", a.BcryptCost)
	a.AdminRoleName = getEnv("COLLEGE_ADMIN_ROLE", a.AdminRoleName)

	p := &c.Password
	p.MinLength = getEnvInt("COLLEGE_PASSWORD_MIN_LENGTH", p.MinLength)
	p.MaxLength = getEnvInt("COLLEGE_PASSWORD_MAX_LENGTH", p.MaxLength)
	p.RequireUpper = getEnvBool("COLLEGE_PASSWORD_REQUIRE_UPPER", p.RequireUpper)
	p.RequireLower = getEnvBool("COLLEGE_PASSWORD_REQUIRE_LOWER", p.RequireLower)
	p.RequireDigit = getEnvBool("COLLEGE_PASSWORD_REQUIRE_DIGIT", p.RequireDigit)
	p.RequireSymbol = getEnvBool("COLLEGE_PASSWORD_REQUIRE_SYMBOL", p.RequireSymbol)

	r := &c.Reset
	r.TokenTTL = getEnvDuration("COLLEGE_RESET_TOKEN_TTL", r.TokenTTL)
	r.BaseURL = getEnv("COLLEGE_RESET_BASE_URL", r.BaseURL)
	r.ExposeLink = getEnvBool("COLLEGE_RESET_EXPOSE_LINK", r.ExposeLink)

	se := &c.Session
	se.Lifetime = getEnvDuration("COLLEGE_SESSION_LIFETIME", se.Lifetime)
	se.CookieName = getEnv("COLLEGE_SESSION_COOKIE", se.CookieName)
	se.CookiePath = getEnv("COLLEGE_SESSION_COOKIE_PATH", se.CookiePath)
	se.MaxSessions = getEnvInt("COLLEGE_SESSION_MAX", se.MaxSessions)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("COLLEGE_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.LoginPerWindow = getEnvInt("COLLEGE_RATE_LIMIT_LOGIN", rl.LoginPerWindow)
	rl.ResetPerWindow = getEnvInt("COLLEGE_RATE_LIMIT_RESET", rl.ResetPerWindow)
	rl.Window = getEnvDuration("COLLEGE_RATE_LIMIT_WINDOW", rl.Window)

	o := &c.Observability
	o.LogLevel = getEnv("COLLEGE_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("COLLEGE_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("COLLEGE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("COLLEGE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("COLLEGE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("COLLEGE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("COLLEGE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("COLLEGE_OTEL_INSECURE", o.OTelInsecure)

	h := &c.Housekeeping
	h.Enabled = getEnvBool("COLLEGE_HOUSEKEEPING_ENABLED", h.Enabled)
	h.Schedule = getEnv("COLLEGE_HOUSEKEEPING_SCHEDULE", h.Schedule)
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls cert and key files must be set together"))
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Errorf("invalid trusted proxy %q", proxy))
		}
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url is required (COLLEGE_DB_URL)"))
	}

	if c.Auth.LockoutThreshold < 1 {
		errs = append(errs, errors.New("lockout threshold must be at least 1"))
	}
	if c.Auth.LockoutDuration <= 0 {
		errs = append(errs, errors.New("lockout duration must be positive"))
	}
	if c.Auth.BcryptCost < MinBcryptCost || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost must be between %d and 31", MinBcryptCost))
	}
	if c.Auth.AdminRoleName == "" {
		errs = append(errs, errors.New("admin role name is required"))
	}

	if c.Password.MinLength < 1 {
		errs = append(errs, errors.New("password min length must be at least 1"))
	}
	if c.Password.MaxLength < c.Password.MinLength || c.Password.MaxLength > 72 {
		errs = append(errs, errors.New("password max length must be between min length and 72"))
	}

	if c.Reset.TokenTTL <= 0 {
		errs = append(errs, errors.New("reset token ttl must be positive"))
	}

	if c.Session.Lifetime < time.Minute {
		errs = append(errs, errors.New("session lifetime must be at least one minute"))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session cookie name is required"))
	}
	if c.Session.MaxSessions < 1 {
		errs = append(errs, errors.New("session max must be at least 1"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 || c.RateLimit.LoginPerWindow < 1 || c.RateLimit.ResetPerWindow < 1 {
			errs = append(errs, errors.New("rate limit window and limits must be positive"))
		}
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		errs = append(errs, errors.New("otel endpoint is required when otel is enabled"))
	}

	if c.Housekeeping.Enabled && strings.TrimSpace(c.Housekeeping.Schedule) == "" {
		errs = append(errs, errors.New("housekeeping schedule is required when housekeeping is enabled"))
	}

	return errors.Join(errs...)
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// TLSEnabled reports whether the server terminates TLS itself.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != ""
}

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}

// getEnv returns an environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
