package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bosgateway", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "bos", cfg.Bos.Binary)
	assert.Equal(t, time.Minute, cfg.Bos.GracePeriod)
	assert.Equal(t, BackendLocal, cfg.Live.Backend)
	assert.Equal(t, "coingecko", cfg.Report.RateProvider)
	assert.Equal(t, 720*time.Hour, cfg.Retention.KeepFor)
	assert.Empty(t, cfg.Accounts)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "config.yaml", `
server:
  listen: ":9000"
  tokens:
    - token: Secret-A
      user_id: alice
accounts:
  - user_id: alice
    name: alice-node
    socket: "10.0.0.1:10009"
    cert_path: /creds/alice/tls.cert
    macaroon_path: /creds/alice/admin.macaroon
live:
  backend: redis
retention:
  enabled: true
  keep_for: 48h
`)
	t.Setenv("BOSGATEWAY_BOS_GRACE_PERIOD", "90s")
	t.Setenv("BOSGATEWAY_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, map[string]string{"Secret-A": "alice"}, cfg.Server.TokenMap())
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "alice", cfg.Accounts[0].UserID)
	assert.Equal(t, "/creds/alice/admin.macaroon", cfg.Accounts[0].MacaroonPath)
	assert.Equal(t, BackendRedis, cfg.Live.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Bos.GracePeriod)
	assert.Equal(t, 48*time.Hour, cfg.Retention.KeepFor)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "BOSGATEWAY_REPORT_RATE_PROVIDER=coinbase\n")
	t.Setenv("BOSGATEWAY_REPORT_RATE_PROVIDER", "")
	require.NoError(t, os.Unsetenv("BOSGATEWAY_REPORT_RATE_PROVIDER"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "coinbase", cfg.Report.RateProvider)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Bos:  BosConfig{Binary: "bos"},
			Live: LiveConfig{Backend: BackendLocal, QueueSize: 1},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Live.Backend = "kafka" }, "live.backend"},
		{"redis without addr", func(c *Config) { c.Live.Backend = BackendRedis }, "redis.addr"},
		{"missing binary", func(c *Config) { c.Bos.Binary = "" }, "bos.binary"},
		{"retention without keep", func(c *Config) {
			c.Retention = RetentionConfig{Enabled: true, Interval: time.Hour}
		}, "retention.keep_for"},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }, "bot_token"},
		{"empty token user", func(c *Config) { c.Server.Tokens = []TokenConfig{{Token: "t"}} }, "server.tokens[0]"},
		{"duplicate token", func(c *Config) {
			c.Server.Tokens = []TokenConfig{{Token: "t", UserID: "a"}, {Token: "t", UserID: "b"}}
		}, "server.tokens[1]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
