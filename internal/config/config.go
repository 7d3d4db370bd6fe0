// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/dmc-forwarder/config.toml",
	"configs/config.toml",
}

// Fixed routes served by the forwarder, relative to the route prefix.
const (
	ContactRoute  = "/contact"
	ResourceRoute = "/resource"

	HealthRoute = "/healthz"
	StatusRoute = "/forwarder/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream string           `kong:"short='u',help='Upstream base URL (overrides config).',env='UPSTREAM_BASE_URL'"`
	LogLevel string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version  kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path, empty when running from flags/env only
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 means "use default" (8080)
	// RoutePrefix is prepended to /contact and /resource, e.g. "/wkl".
	RoutePrefix string          `toml:"route_prefix"`
	BodyLimit   string          `toml:"body_limit"` // human size, e.g. "10MiB"
	RateLimit   RateLimitConfig `toml:"rate_limit"`

	bodyLimitBytes int64
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	BaseURL string `toml:"base_url"`
	// TimeoutSeconds bounds a whole upstream exchange. 0 leaves it unbounded.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// KeepAlive pools upstream connections. When false every connection is
	// closed once its exchange completes.
	KeepAlive       bool `toml:"keep_alive"`
	IdleConnections int  `toml:"idle_connections"`
	// PropagateStatus relays the upstream status code instead of always 200.
	PropagateStatus bool `toml:"propagate_status"`
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

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/dmc-forwarder/config.toml then configs/config.toml. If neither exists
// the configuration comes from flags and environment alone.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

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
	if cli.Upstream != "" {
		c.Upstream.BaseURL = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate reports every problem at once rather than stopping at the first.
func (c *Config) validate() error {
	var errs error

	errs = multierr.Append(errs, validateBaseURL(c.Upstream.BaseURL))

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port))
	}
	if c.Server.BodyLimit != "" {
		n, err := humanize.ParseBytes(c.Server.BodyLimit)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("server.body_limit: %w", err))
		} else if n == 0 {
			errs = multierr.Append(errs, fmt.Errorf("server.body_limit must be positive; got %q", c.Server.BodyLimit))
		}
	}
	if p := c.Server.RoutePrefix; p != "" {
		if p[0] != '/' {
			errs = multierr.Append(errs, fmt.Errorf("server.route_prefix must start with '/'; got %q", p))
		}
		if strings.ContainsAny(p, ":*?#") {
			errs = multierr.Append(errs, fmt.Errorf("server.route_prefix must be a literal path; got %q", p))
		}
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond))
	}

	if c.Upstream.TimeoutSeconds < 0 {
		errs = multierr.Append(errs, fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds))
	}
	if c.Upstream.IdleConnections < 0 {
		errs = multierr.Append(errs, fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		errs = multierr.Append(errs, c.validateMetricsPath())
	}

	return errs
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("upstream.base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("upstream.base_url must not carry a query or fragment; got %q", raw)
	}
	return nil
}

func (c *Config) validateMetricsPath() error {
	p := c.Metrics.Path
	if p[0] != '/' {
		return fmt.Errorf("metrics.path must start with '/'; got %q", p)
	}
	prefix := strings.TrimRight(c.Server.RoutePrefix, "/")
	for _, reserved := range []string{prefix + ContactRoute, prefix + ResourceRoute, HealthRoute, StatusRoute} {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with defaults and normalizes paths.
// Integer zero means "unset" because TOML cannot distinguish an explicit 0
// from an omitted key; upstream.timeout_seconds keeps 0 as "no timeout".
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = "10MiB"
	}
	// Already validated, so the parse cannot fail here.
	n, _ := humanize.ParseBytes(c.Server.BodyLimit)
	c.Server.bodyLimitBytes = int64(n)
	c.Server.RoutePrefix = strings.TrimRight(c.Server.RoutePrefix, "/")

	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 16
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

// BodyLimitBytes returns the parsed inbound body limit.
func (c *ServerConfig) BodyLimitBytes() int64 {
	return c.bodyLimitBytes
}

// ContactPath is the full inbound route of the GET forward.
func (c *ServerConfig) ContactPath() string {
	return c.RoutePrefix + ContactRoute
}

// ResourcePath is the full inbound route of the POST forward.
func (c *ServerConfig) ResourcePath() string {
	return c.RoutePrefix + ResourceRoute
}

// FilePath returns the config file that was loaded, if any.
func (c *Config) FilePath() string {
	return c.filePath
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
