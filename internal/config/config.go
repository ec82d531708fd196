// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/messaging-proxy/config.toml",
	"configs/config.toml",
}

// DefaultAdminRoutes are the upstream path prefixes for instance lifecycle
// operations. Requests under them always carry the admin token.
var DefaultAdminRoutes = []string{
	"/instance/all",
	"/instance/init",
	"/instance/create",
	"/instance/delete",
	"/instance/restore",
}

// Identity verification modes.
const (
	IdentityModeIntrospect = "introspect"
	IdentityModeJWT        = "jwt"
)

const adminTokenPlaceholder = "YOUR_ADMIN_TOKEN_HERE"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	AdminToken     string `kong:"help='Upstream admin token (overrides config).',env='UPSTREAM_ADMIN_TOKEN'"`
	IdentityAPIKey string `kong:"help='Identity provider API key (overrides config).',env='IDENTITY_API_KEY'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Identity IdentityConfig `toml:"identity"`
	Upstream UpstreamConfig `toml:"upstream"`
	Errors   ErrorsConfig   `toml:"errors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	MountPrefix  string          `toml:"mount_prefix"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// IdentityConfig holds identity provider settings used to validate client
// bearer tokens.
type IdentityConfig struct {
	Mode           string `toml:"mode"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	JWTSecret      string `toml:"jwt_secret"`
	Audience       string `toml:"audience"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// UpstreamConfig holds upstream connection and credential settings.
type UpstreamConfig struct {
	BaseURL             string   `toml:"base_url"`
	AdminToken          string   `toml:"admin_token"`
	InstanceTokenHeader string   `toml:"instance_token_header"`
	AdminRoutes         []string `toml:"admin_routes"`
	TimeoutSeconds      int      `toml:"timeout_seconds"`
	IdleConnections     int      `toml:"idle_connections"`
}

// ErrorsConfig controls what error responses reveal to clients.
type ErrorsConfig struct {
	// ExposeDetails includes provider and transport diagnostics in the
	// "details" field. Nil means unset and defaults to true.
	ExposeDetails *bool `toml:"expose_details"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry settings for outbound calls.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/messaging-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.AdminToken != "" {
		c.Upstream.AdminToken = cli.AdminToken
	}
	if cli.IdentityAPIKey != "" {
		c.Identity.APIKey = cli.IdentityAPIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Upstream.AdminToken == adminTokenPlaceholder {
		return fmt.Errorf("upstream.admin_token contains placeholder value; set a real token or leave it empty")
	}

	if err := validateBaseURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}

	switch strings.ToLower(c.Identity.Mode) {
	case IdentityModeIntrospect, "":
		if err := validateBaseURL("identity.base_url", c.Identity.BaseURL); err != nil {
			return err
		}
	case IdentityModeJWT:
		if c.Identity.JWTSecret == "" {
			return fmt.Errorf("identity.jwt_secret is required when identity.mode is %q", IdentityModeJWT)
		}
	default:
		return fmt.Errorf("identity.mode must be one of: introspect, jwt; got %q", c.Identity.Mode)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Identity.TimeoutSeconds < 0 {
		return fmt.Errorf("identity.timeout_seconds must be non-negative; got %d", c.Identity.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if p := c.Server.MountPrefix; p != "" && (p[0] != '/' || p == "/") {
		return fmt.Errorf("server.mount_prefix must start with '/' and not be the root; got %q", p)
	}
	for _, r := range c.Upstream.AdminRoutes {
		if r == "" || r[0] != '/' {
			return fmt.Errorf("upstream.admin_routes entries must start with '/'; got %q", r)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := []string{"/healthz", "/proxy/status", c.mountPrefix()}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

// validateBaseURL requires an absolute URL. Plain HTTP is accepted only for
// loopback hosts so that local development stacks work.
func validateBaseURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
	}
	return fmt.Errorf("%s must use HTTPS; got %q", field, raw)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	c.Server.MountPrefix = c.mountPrefix()
	if c.Identity.Mode == "" {
		c.Identity.Mode = IdentityModeIntrospect
	}
	c.Identity.Mode = strings.ToLower(c.Identity.Mode)
	if c.Identity.TimeoutSeconds == 0 {
		c.Identity.TimeoutSeconds = 10
	}
	if c.Upstream.InstanceTokenHeader == "" {
		c.Upstream.InstanceTokenHeader = "x-instance-token"
	}
	if c.Upstream.AdminRoutes == nil {
		c.Upstream.AdminRoutes = append([]string(nil), DefaultAdminRoutes...)
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Errors.ExposeDetails == nil {
		expose := true
		c.Errors.ExposeDetails = &expose
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "messaging-proxy"
	}
}

func (c *Config) mountPrefix() string {
	if c.Server.MountPrefix == "" {
		return "/messaging-proxy"
	}
	return strings.TrimRight(c.Server.MountPrefix, "/")
}

// ShowErrorDetails reports whether error responses carry the details field.
func (c *ErrorsConfig) ShowErrorDetails() bool {
	return c.ExposeDetails == nil || *c.ExposeDetails
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnMissingAdminToken logs a warning when no admin token is configured.
// The proxy still starts, but every proxied request fails until one is set.
func (c *Config) WarnMissingAdminToken(logger *slog.Logger) {
	if c.Upstream.AdminToken == "" {
		logger.Warn("upstream.admin_token is empty; proxied requests will fail with missing-admin-token")
	}
}
