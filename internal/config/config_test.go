package config

import (
	"errors"
	"testing"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPO_ROOT", "https://github.com/example/compose-v2.git")
	t.Setenv("WORKING_DIR", "/srv/sid")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "git", cfg.Repo.GitBinary)
	assert.Equal(t, 5*time.Minute, cfg.Repo.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Docker.DeployTimeout)
	assert.Equal(t, time.Minute, cfg.Server.DrainTimeout)
	assert.Equal(t, time.Duration(0), cfg.Sync.Interval)
	assert.Equal(t, "/srv/sid/compose-v2", cfg.Repo.MirrorPath())
	require.NoError(t, cfg.Validate())
}

func TestRepoName(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		over   string
		want   string
	}{
		{"https with suffix", "https://github.com/example/compose-v2.git", "", "compose-v2"},
		{"https without suffix", "https://github.com/example/stacks", "", "stacks"},
		{"trailing slash", "https://github.com/example/stacks/", "", "stacks"},
		{"scp style", "git@github.com:example/homelab.git", "", "homelab"},
		{"local path", "/srv/git/infra.git", "", "infra"},
		{"override wins", "https://github.com/example/compose-v2.git", "mirror", "mirror"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := RepoConfig{Remote: tt.remote, Name: tt.over}
			assert.Equal(t, tt.want, rc.RepoName())
		})
	}
}

func TestRepoCheckMissing(t *testing.T) {
	rc := RepoConfig{}
	err := rc.Check()

	var cerr *domain.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"REPO_ROOT", "WORKING_DIR"}, cerr.Missing)

	rc.Remote = "https://example.com/r.git"
	err = rc.Check()
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"WORKING_DIR"}, cerr.Missing)
}

func TestAllowedHosts(t *testing.T) {
	sc := ServerConfig{AllowedHosts: "sid.example.com, 10.0.0.5:3000,"}
	hosts, anyHost := sc.Hosts()
	assert.False(t, anyHost)
	assert.Equal(t, []string{"sid.example.com", "10.0.0.5:3000"}, hosts)

	sc.AllowedHosts = "*"
	_, anyHost = sc.Hosts()
	assert.True(t, anyHost)
}

func TestAllowedHostsLegacyName(t *testing.T) {
	t.Setenv("SID_ALLOWED_HOSTS", "sid.lan")
	cfg, err := Load()
	require.NoError(t, err)
	hosts, anyHost := cfg.Server.Hosts()
	assert.False(t, anyHost)
	assert.Equal(t, []string{"sid.lan"}, hosts)

	t.Setenv("ALLOWED_HOSTS", "sid.example.com")
	cfg, err = Load()
	require.NoError(t, err)
	hosts, _ = cfg.Server.Hosts()
	assert.Equal(t, []string{"sid.example.com"}, hosts)
}

func TestValidateOIDC(t *testing.T) {
	cfg := &Config{
		Repo: RepoConfig{Remote: "r", WorkingDir: "/w"},
		Log:  LogConfig{Format: "text"},
		OIDC: OIDCConfig{Enabled: true, IssuerURL: "https://issuer"},
	}
	assert.ErrorContains(t, cfg.Validate(), "OIDC_CLIENT_ID")

	cfg.OIDC.ClientID = "id"
	cfg.OIDC.ClientSecret = "secret"
	cfg.OIDC.RedirectURL = "https://sid/auth/callback"
	cfg.OIDC.SessionSecret = "too-short"
	assert.ErrorContains(t, cfg.Validate(), "32 bytes")

	cfg.OIDC.SessionSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())
}

func TestValidateLogFormat(t *testing.T) {
	cfg := &Config{
		Repo: RepoConfig{Remote: "r", WorkingDir: "/w"},
		Log:  LogConfig{Format: "xml"},
	}
	assert.ErrorContains(t, cfg.Validate(), "LOG_FORMAT")
}
