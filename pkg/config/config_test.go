package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webqx-health/authcore/pkg/autherr"
	"github.com/webqx-health/authcore/pkg/provider"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 8*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, 5, cfg.Lockout.Threshold)
	assert.Equal(t, time.Minute, cfg.Lockout.BaseWindow)
	assert.Equal(t, time.Hour, cfg.Lockout.MaxWindow)
	assert.Equal(t, 15*time.Second, cfg.Flow.ExchangeTimeout)
	assert.Equal(t, "file", cfg.Audit.Sink)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_SECRET", "test-secret")
	t.Setenv("AUTHCORE_PORT", "9999")
	t.Setenv("AUTHCORE_SESSION_TTL", "2h")
	t.Setenv("AUTHCORE_LOCKOUT_THRESHOLD", "3")
	t.Setenv("AUTHCORE_SESSION_STORE", "redis")
	t.Setenv("AUTHCORE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 3, cfg.Lockout.Threshold)
	assert.Equal(t, "redis", cfg.Session.Store)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_SECRET", "")

	_, err := LoadConfig()
	var confErr *autherr.ConfigurationError
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, "token", confErr.Component)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }},
		{"redis store without url", func(c *Config) { c.Session.Store = "redis"; c.Session.Redis.URL = "" }},
		{"unknown session store", func(c *Config) { c.Session.Store = "cassandra" }},
		{"postgres sink without url", func(c *Config) { c.Audit.Sink = "postgres" }},
		{"unknown audit sink", func(c *Config) { c.Audit.Sink = "kafka" }},
		{"zero lockout threshold", func(c *Config) { c.Lockout.Threshold = 0 }},
		{"cap below base window", func(c *Config) { c.Lockout.MaxWindow = c.Lockout.BaseWindow / 2 }},
		{"missing roles file", func(c *Config) { c.RolesFile = "" }},
		{"missing providers file", func(c *Config) { c.ProvidersFile = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUTHCORE_TOKEN_SECRET", "test-secret")
			cfg, err := LoadConfig()
			require.NoError(t, err)

			tt.mutate(cfg)
			var confErr *autherr.ConfigurationError
			assert.True(t, errors.As(cfg.Validate(), &confErr))
		})
	}
}

func writeProvidersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadProviders(t *testing.T) {
	path := writeProvidersFile(t, `
providers:
  - name: community-oauth
    type: oauth2
    enabled: true
    oauth2:
      client_id: authcore-client
      client_secret: shh
      auth_url: https://idp.example.org/authorize
      token_url: https://idp.example.org/token
      user_info_url: https://idp.example.org/userinfo
      redirect_url: https://app.example.org/auth/community-oauth/callback
      scopes: [openid, profile, email]
    attribute_map:
      external_id: sub
      email: email
  - name: legacy-idp
    type: saml
    enabled: false
    saml:
      entity_id: https://legacy.example.org
      sso_url: https://legacy.example.org/sso
      certificate: unused
    attribute_map:
      external_id: employeeNumber
      email: mail
`)

	providers, err := LoadProviders(path)
	require.NoError(t, err)
	require.Len(t, providers, 1, "disabled providers are dropped")
	assert.Equal(t, "community-oauth", providers[0].Name)
	assert.Equal(t, provider.ProtocolOAuth2, providers[0].Type)
	assert.Equal(t, "sub", providers[0].AttributeMap.ExternalID)
}

func TestLoadProvidersRejects(t *testing.T) {
	var confErr *autherr.ConfigurationError

	_, err := LoadProviders(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.As(err, &confErr))

	path := writeProvidersFile(t, "providers: [")
	_, err = LoadProviders(path)
	assert.True(t, errors.As(err, &confErr))

	path = writeProvidersFile(t, `
providers:
  - name: dup
    type: oauth2
    enabled: true
  - name: dup
    type: saml
    enabled: true
`)
	_, err = LoadProviders(path)
	assert.True(t, errors.As(err, &confErr))

	path = writeProvidersFile(t, `
providers:
  - name: only-disabled
    type: oauth2
    enabled: false
`)
	_, err = LoadProviders(path)
	assert.True(t, errors.As(err, &confErr))
}
