package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
[identity]
base_url = "https://auth.example.com"

[upstream]
base_url = "https://api.example.com"
admin_token = "admin-secret"
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880
mount_prefix = "/wa-proxy/"

[identity]
base_url = "https://auth.example.com"
api_key = "anon-key"
timeout_seconds = 5

[upstream]
base_url = "https://api.example.com"
admin_token = "admin-secret"
instance_token_header = "x-wa-token"
admin_routes = ["/instance/all", "/instance/create"]
timeout_seconds = 60
idle_connections = 50

[errors]
expose_details = false

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.MountPrefix != "/wa-proxy" {
		t.Errorf("Server.MountPrefix = %q, want %q", cfg.Server.MountPrefix, "/wa-proxy")
	}
	if cfg.Identity.APIKey != "anon-key" {
		t.Errorf("Identity.APIKey = %q, want %q", cfg.Identity.APIKey, "anon-key")
	}
	if cfg.Identity.TimeoutSeconds != 5 {
		t.Errorf("Identity.TimeoutSeconds = %d, want %d", cfg.Identity.TimeoutSeconds, 5)
	}
	if cfg.Upstream.AdminToken != "admin-secret" {
		t.Errorf("Upstream.AdminToken = %q, want %q", cfg.Upstream.AdminToken, "admin-secret")
	}
	if cfg.Upstream.InstanceTokenHeader != "x-wa-token" {
		t.Errorf("Upstream.InstanceTokenHeader = %q, want %q", cfg.Upstream.InstanceTokenHeader, "x-wa-token")
	}
	if !slices.Equal(cfg.Upstream.AdminRoutes, []string{"/instance/all", "/instance/create"}) {
		t.Errorf("Upstream.AdminRoutes = %v", cfg.Upstream.AdminRoutes)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Errors.ShowErrorDetails() {
		t.Error("Errors.ShowErrorDetails() = true, want false")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalConfig)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Server.MountPrefix != "/messaging-proxy" {
		t.Errorf("default Server.MountPrefix = %q, want %q", cfg.Server.MountPrefix, "/messaging-proxy")
	}
	if cfg.Identity.Mode != IdentityModeIntrospect {
		t.Errorf("default Identity.Mode = %q, want %q", cfg.Identity.Mode, IdentityModeIntrospect)
	}
	if cfg.Identity.TimeoutSeconds != 10 {
		t.Errorf("default Identity.TimeoutSeconds = %d, want %d", cfg.Identity.TimeoutSeconds, 10)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Upstream.InstanceTokenHeader != "x-instance-token" {
		t.Errorf("default Upstream.InstanceTokenHeader = %q, want %q", cfg.Upstream.InstanceTokenHeader, "x-instance-token")
	}
	if !slices.Equal(cfg.Upstream.AdminRoutes, DefaultAdminRoutes) {
		t.Errorf("default Upstream.AdminRoutes = %v, want %v", cfg.Upstream.AdminRoutes, DefaultAdminRoutes)
	}
	if !cfg.Errors.ShowErrorDetails() {
		t.Error("default Errors.ShowErrorDetails() = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Tracing.ServiceName != "messaging-proxy" {
		t.Errorf("default Tracing.ServiceName = %q, want %q", cfg.Tracing.ServiceName, "messaging-proxy")
	}
}

func TestLoad_EmptyAdminTokenAllowed(t *testing.T) {
	path := writeConfig(t, `
[identity]
base_url = "https://auth.example.com"

[upstream]
base_url = "https://api.example.com"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; empty admin_token is reported per request, not at load", err)
	}
	if cfg.Upstream.AdminToken != "" {
		t.Errorf("Upstream.AdminToken = %q, want empty", cfg.Upstream.AdminToken)
	}
}

func TestLoad_PlaceholderAdminToken(t *testing.T) {
	path := writeConfig(t, `
[identity]
base_url = "https://auth.example.com"

[upstream]
base_url = "https://api.example.com"
admin_token = "YOUR_ADMIN_TOKEN_HERE"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for placeholder admin_token, got nil")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[log]
level = "verbose"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[identity]
base_url = "https://auth.example.com"
api_key = "toml-anon"

[upstream]
base_url = "https://api.example.com"
admin_token = "toml-admin"

[log]
level = "info"
`)

	cli := &CLI{
		Config:         path,
		Host:           "127.0.0.1",
		Port:           3000,
		AdminToken:     "cli-admin",
		IdentityAPIKey: "cli-anon",
		LogLevel:       "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Upstream.AdminToken != "cli-admin" {
		t.Errorf("Upstream.AdminToken = %q, want %q (CLI override)", cfg.Upstream.AdminToken, "cli-admin")
	}
	if cfg.Identity.APIKey != "cli-anon" {
		t.Errorf("Identity.APIKey = %q, want %q (CLI override)", cfg.Identity.APIKey, "cli-anon")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_BaseURLScheme(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		wantErr  bool
	}{
		{"https accepted", "https://api.example.com", false},
		{"http remote rejected", "http://api.example.com", true},
		{"http localhost accepted", "http://localhost:8081", false},
		{"http loopback ip accepted", "http://127.0.0.1:8081", false},
		{"empty rejected", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, `
[identity]
base_url = "https://auth.example.com"

[upstream]
base_url = "`+tt.upstream+`"
`)
			_, err := Load(cliWithPath(path))
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_IdentityMode(t *testing.T) {
	tests := []struct {
		name    string
		section string
		wantErr string
	}{
		{"introspect requires base_url", "[identity]\nmode = \"introspect\"\n", "identity.base_url"},
		{"jwt requires secret", "[identity]\nmode = \"jwt\"\n", "identity.jwt_secret"},
		{"jwt with secret", "[identity]\nmode = \"jwt\"\njwt_secret = \"s3cret\"\n", ""},
		{"unknown mode", "[identity]\nmode = \"oauth\"\n", "identity.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.section+`
[upstream]
base_url = "https://api.example.com"
`)
			_, err := Load(cliWithPath(path))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Load() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Load() expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MountPrefixValidation(t *testing.T) {
	for _, prefix := range []string{"proxy", "/"} {
		t.Run(prefix, func(t *testing.T) {
			path := writeConfig(t, minimalConfig+`
[server]
mount_prefix = "`+prefix+`"
`)
			if _, err := Load(cliWithPath(path)); err == nil {
				t.Fatalf("Load() expected error for mount_prefix=%q, got nil", prefix)
			}
		})
	}
}

func TestLoad_AdminRoutesValidation(t *testing.T) {
	path := writeConfig(t, `
[identity]
base_url = "https://auth.example.com"

[upstream]
base_url = "https://api.example.com"
admin_routes = ["instance/all"]
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for admin route without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "admin_routes") {
		t.Errorf("error = %q, want mention of admin_routes", err)
	}
}

func TestLoad_NegativeValues(t *testing.T) {
	tests := []struct {
		name    string
		section string
	}{
		{"port", "[server]\nport = -1\n"},
		{"body_max_bytes", "[server]\nbody_max_bytes = -1\n"},
		{"upstream timeout", "[upstream]\nbase_url = \"https://api.example.com\"\ntimeout_seconds = -5\n"},
		{"identity timeout", "[identity]\nbase_url = \"https://auth.example.com\"\ntimeout_seconds = -5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.section
			if !strings.Contains(data, "[upstream]") {
				data += "\n[upstream]\nbase_url = \"https://api.example.com\"\n"
			}
			if !strings.Contains(data, "[identity]") {
				data += "\n[identity]\nbase_url = \"https://auth.example.com\"\n"
			}
			if _, err := Load(cliWithPath(writeConfig(t, data))); err == nil {
				t.Fatalf("Load() expected error for negative %s, got nil", tt.name)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnMissingAdminToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	(&Config{}).WarnMissingAdminToken(logger)
	if !strings.Contains(buf.String(), "admin_token is empty") {
		t.Errorf("expected missing admin token warning, got: %q", buf.String())
	}

	buf.Reset()
	(&Config{Upstream: UpstreamConfig{AdminToken: "set"}}).WarnMissingAdminToken(logger)
	if buf.Len() != 0 {
		t.Errorf("expected no warning with admin token set, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, minimalConfig)
	path2 := writeConfig(t, minimalConfig)

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"mount prefix exact", "/messaging-proxy"},
		{"mount prefix sub", "/messaging-proxy/metrics"},
		{"healthz", "/healthz"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, minimalConfig+`
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
