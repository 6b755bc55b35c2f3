package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
// It is built once at startup and passed to every component.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Repo     RepoConfig
	Docker   DockerConfig
	Sync     SyncConfig
	Notify   NotifyConfig
	Log      LogConfig
	OIDC     OIDCConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int    `env:"SERVER_PORT" envDefault:"3000"`
	AllowedHosts    string `env:"ALLOWED_HOSTS"` // comma separated, "*" allows any Host header
	LegacyHosts     string `env:"SID_ALLOWED_HOSTS"`
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`
	// DrainTimeout bounds how long shutdown waits for in-flight runs.
	DrainTimeout time.Duration `env:"DRAIN_TIMEOUT" envDefault:"1m"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/sid.db"`
}

// RepoConfig locates the tracked repository and its local mirror.
type RepoConfig struct {
	Remote     string        `env:"REPO_ROOT"`
	WorkingDir string        `env:"WORKING_DIR"`
	Name       string        `env:"REPO_NAME"`
	GitBinary  string        `env:"GIT_BINARY" envDefault:"git"`
	Timeout    time.Duration `env:"GIT_TIMEOUT" envDefault:"5m"`
}

// DockerConfig holds container engine settings.
type DockerConfig struct {
	Binary        string        `env:"DOCKER_BINARY" envDefault:"docker"`
	Timeout       time.Duration `env:"DOCKER_TIMEOUT" envDefault:"1m"`
	DeployTimeout time.Duration `env:"DEPLOY_TIMEOUT" envDefault:"15m"`
	Concurrency   int           `env:"DEPLOY_CONCURRENCY" envDefault:"0"` // 0 = one process per directory
}

// SyncConfig holds reconciliation behavior.
type SyncConfig struct {
	Interval time.Duration `env:"SYNC_INTERVAL" envDefault:"0"` // 0 disables scheduled reconciliation
	OnStart  bool          `env:"SYNC_ON_START" envDefault:"false"`
	Debounce time.Duration `env:"SYNC_DEBOUNCE" envDefault:"2s"`
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	URL   string  `env:"NOTIFY_URL"`
	Title string  `env:"NOTIFY_TITLE" envDefault:"SID"`
	Rate  float64 `env:"NOTIFY_RATE" envDefault:"1"` // messages per second
	Queue int     `env:"NOTIFY_QUEUE" envDefault:"64"`
}

// LogConfig controls the process-wide slog handler.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// OIDCConfig holds OIDC authentication configuration.
type OIDCConfig struct {
	Enabled         bool          `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL       string        `env:"OIDC_ISSUER_URL"`
	ClientID        string        `env:"OIDC_CLIENT_ID"`
	ClientSecret    string        `env:"OIDC_CLIENT_SECRET"`
	RedirectURL     string        `env:"OIDC_REDIRECT_URL"`
	Scopes          string        `env:"OIDC_SCOPES" envDefault:"openid,email,profile"`
	SessionSecret   string        `env:"OIDC_SESSION_SECRET"`
	SessionDuration time.Duration `env:"OIDC_SESSION_DURATION" envDefault:"24h"`
	AllowedDomains  string        `env:"OIDC_ALLOWED_DOMAINS"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []struct {
		name string
		dst  any
	}{
		{"server", &cfg.Server},
		{"database", &cfg.Database},
		{"repo", &cfg.Repo},
		{"docker", &cfg.Docker},
		{"sync", &cfg.Sync},
		{"notify", &cfg.Notify},
		{"log", &cfg.Log},
		{"oidc", &cfg.OIDC},
	}
	for _, s := range sections {
		if err := env.Parse(s.dst); err != nil {
			return nil, fmt.Errorf("parsing %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Hosts returns the extra allowed Host header values and whether any host
// is allowed. SID_ALLOWED_HOSTS is read when ALLOWED_HOSTS is unset.
func (c *ServerConfig) Hosts() (hosts []string, anyHost bool) {
	raw := c.AllowedHosts
	if strings.TrimSpace(raw) == "" {
		raw = c.LegacyHosts
	}
	if strings.TrimSpace(raw) == "*" {
		return nil, true
	}
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, false
}

// RepoName returns the mirror directory name: REPO_NAME when set, otherwise
// the last segment of the remote with any ".git" suffix removed.
func (c *RepoConfig) RepoName() string {
	if c.Name != "" {
		return c.Name
	}
	remote := strings.TrimRight(c.Remote, "/")
	// scp-like remotes: git@host:owner/repo.git
	if i := strings.LastIndex(remote, ":"); i >= 0 && !strings.Contains(remote, "://") {
		remote = remote[i+1:]
	}
	return strings.TrimSuffix(path.Base(remote), ".git")
}

// MirrorPath is where the local working copy lives.
func (c *RepoConfig) MirrorPath() string {
	return path.Join(c.WorkingDir, c.RepoName())
}

// Check reports a ConfigurationError when the repository settings are incomplete.
func (c *RepoConfig) Check() error {
	var missing []string
	if c.Remote == "" {
		missing = append(missing, "REPO_ROOT")
	}
	if c.WorkingDir == "" {
		missing = append(missing, "WORKING_DIR")
	}
	if len(missing) > 0 {
		return &domain.ConfigurationError{Missing: missing}
	}
	if name := c.RepoName(); name == "" || name == "." || name == "/" {
		return &domain.ConfigurationError{Missing: []string{"REPO_NAME"}}
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetScopes returns the OIDC scopes as a slice.
func (c *OIDCConfig) GetScopes() []string {
	if c.Scopes == "" {
		return []string{"openid", "email", "profile"}
	}
	return strings.Split(c.Scopes, ",")
}

// GetAllowedDomains returns the allowed domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	domains := strings.Split(c.AllowedDomains, ",")
	for i := range domains {
		domains[i] = strings.TrimSpace(domains[i])
	}
	return domains
}

// GetSessionSecretBytes returns the session secret as bytes.
func (c *OIDCConfig) GetSessionSecretBytes() ([]byte, error) {
	if c.SessionSecret == "" {
		return nil, fmt.Errorf("OIDC_SESSION_SECRET is required")
	}
	if len(c.SessionSecret) == 64 {
		decoded, err := hex.DecodeString(c.SessionSecret)
		if err == nil {
			return decoded, nil
		}
	}
	if len(c.SessionSecret) != 32 {
		return nil, fmt.Errorf("OIDC_SESSION_SECRET must be 32 bytes (or 64 hex characters)")
	}
	return []byte(c.SessionSecret), nil
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	if err := c.Repo.Check(); err != nil {
		return err
	}
	if c.Docker.Concurrency < 0 {
		return fmt.Errorf("DEPLOY_CONCURRENCY must not be negative")
	}
	if c.Server.DrainTimeout < 0 {
		return fmt.Errorf("DRAIN_TIMEOUT must not be negative")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	if c.OIDC.Enabled {
		required := map[string]string{
			"OIDC_ISSUER_URL":    c.OIDC.IssuerURL,
			"OIDC_CLIENT_ID":     c.OIDC.ClientID,
			"OIDC_CLIENT_SECRET": c.OIDC.ClientSecret,
			"OIDC_REDIRECT_URL":  c.OIDC.RedirectURL,
		}
		for _, name := range []string{"OIDC_ISSUER_URL", "OIDC_CLIENT_ID", "OIDC_CLIENT_SECRET", "OIDC_REDIRECT_URL"} {
			if required[name] == "" {
				return fmt.Errorf("%s is required when OIDC is enabled", name)
			}
		}
		if _, err := c.OIDC.GetSessionSecretBytes(); err != nil {
			return err
		}
	}

	return nil
}
