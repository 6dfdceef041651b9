package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmrelay/pmrelay/internal/model"
)

func TestNew_RejectsEmptyDriver(t *testing.T) {
	t.Setenv("PMRELAY_STORE_DRIVER", "")
	cfg, err := New()
	require.Error(t, err, "empty driver must be rejected")
	assert.Nil(t, cfg)
}

func TestNew_FromEnvironment(t *testing.T) {
	t.Setenv("PMRELAY_HTTP_PORT", "9099")
	t.Setenv("PMRELAY_STORE_DRIVER", "sqlite")
	t.Setenv("PMRELAY_SQLITE_PATH", "/tmp/relay.db")
	t.Setenv("PMRELAY_SECRET_TOKEN", "s3cret")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 9099, cfg.HTTPPort)
	assert.Equal(t, ":9099", cfg.GetHTTPAddr())
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/relay.db", cfg.SQLitePath)
	assert.Equal(t, "s3cret", cfg.SecretToken)
	assert.Equal(t, "webhook", cfg.WebhookPrefix)
	assert.Equal(t, 1, cfg.DispatchMaxAttempts)
	assert.Equal(t, 6*24*time.Hour, cfg.PinRenewMaxAge())
}

func TestResolveDefaults_Validation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"memory ok", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, true},
		{"postgres without dsn", func(c *Config) { c.StoreDriver = StorePostgres }, true},
		{"postgres with dsn", func(c *Config) {
			c.StoreDriver = StorePostgres
			c.PostgresDSN = "postgres://localhost/relay"
		}, false},
		{"bad verify zone", func(c *Config) { c.VerifyTimeZone = "Mars/Olympus" }, true},
		{"bad display zone", func(c *Config) { c.DisplayTimeZone = "Nowhere/Town" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewForTesting()
			tc.mutate(cfg)
			err := cfg.ResolveDefaults()
			if tc.wantErr {
				assert.ErrorIs(t, err, model.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocations(t *testing.T) {
	cfg := NewForTesting()
	cfg.DisplayTimeZone = "Asia/Shanghai"
	assert.Equal(t, "Asia/Shanghai", cfg.DisplayLocation().String())
	assert.Equal(t, time.UTC, cfg.VerifyLocation())

	cfg.VerifyTimeZone = "not/a/zone"
	assert.Equal(t, time.UTC, cfg.VerifyLocation())
	assert.True(t, cfg.IsTesting())
	assert.False(t, cfg.IsProduction())
}

func TestBotCredentials(t *testing.T) {
	cfg := NewForTesting()
	cfg.Bots = []string{"123456:AAH-token:42", " ", "987:xyz:-7"}
	creds, err := cfg.BotCredentials()
	require.NoError(t, err)
	assert.Equal(t, []BotCredential{
		{Token: "123456:AAH-token", OwnerUID: 42},
		{Token: "987:xyz", OwnerUID: -7},
	}, creds)

	cfg.Bots = []string{"no-owner"}
	_, err = cfg.BotCredentials()
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.ErrorIs(t, cfg.ResolveDefaults(), model.ErrValidation)

	cfg.Bots = []string{"123:abc:notanumber"}
	_, err = cfg.BotCredentials()
	assert.ErrorIs(t, err, model.ErrValidation)
}
