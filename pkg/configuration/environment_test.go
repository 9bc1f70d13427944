package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/outbound/pkg/jobqueue"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "OUTBOUND_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "pkg", "jobs")
	requireMkdirAll(t, sub)

	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(sub); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	_ = os.Unsetenv("OUTBOUND_TEST_ENV_LOAD")
	t.Cleanup(func() { _ = os.Unsetenv("OUTBOUND_TEST_ENV_LOAD") })

	n, err := LoadEnv([]string{".env", ".env.local"})
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 env file loaded, got %d", n)
	}
	if got := os.Getenv("OUTBOUND_TEST_ENV_LOAD"); got != "ok" {
		t.Fatalf("expected env var loaded from repo root, got %q", got)
	}
}

func parse(t *testing.T, environ map[string]string) (*Configuration, error) {
	t.Helper()

	c := &Configuration{}
	require.NoError(t, env.ParseWithOptions(c, env.Options{Environment: environ}))
	return c, c.resolve(environ)
}

func TestResolve_Defaults(t *testing.T) {
	c, err := parse(t, map[string]string{})
	require.NoError(t, err)

	assert.Empty(t, c.Integrations)
	assert.Equal(t, "outbound-queue", c.Outbound.QueueNamespace)
	assert.Equal(t, "outbound-worker", c.Outbound.WorkerNamespace)
	assert.Equal(t, 60*time.Second, c.Outbound.LockTTL)
	assert.Equal(t, 1000, c.Outbound.DeadLetterMaxLen)
	assert.Equal(t, "@every 1m", c.Cron.QueueDepthSchedule)
	assert.Equal(t, "localhost:3200", c.SocketAddress)
	assert.NotNil(t, c.Logger())
}

func TestResolve_Integrations(t *testing.T) {
	environ := map[string]string{
		"OUTBOUND_INTEGRATIONS":                    " CRM , erp-v2",
		"OUTBOUND_CRM_ENABLED":                     "true",
		"OUTBOUND_CRM_BASE_URL":                    "https://crm.example.com/api",
		"OUTBOUND_CRM_ATTEMPTS":                    "3",
		"OUTBOUND_CRM_BACKOFF":                     "fixed",
		"OUTBOUND_CRM_BACKOFF_DELAY":               "2s",
		"OUTBOUND_CRM_TERMINAL_STATUSES":           "409,422",
		"OUTBOUND_CRM_BREAKER_ENABLED":             "true",
		"OUTBOUND_ERP_V2_ENABLED":                  "true",
		"OUTBOUND_ERP_V2_WORKER_ENABLED":           "false",
		"OUTBOUND_ERP_V2_TERMINAL_ON_CLIENT_ERROR": "true",
		"OUTBOUND_ERP_V2_RATE_LIMIT":               "10-S",
		"GO_APP_ENV":                               Production,
	}
	c, err := parse(t, environ)
	require.NoError(t, err)
	require.Len(t, c.Integrations, 2)
	assert.Equal(t, ":3200", c.SocketAddress)

	crm := c.Integrations[0]
	assert.Equal(t, "crm", crm.Name)
	assert.True(t, crm.WorkerEnabled)
	assert.Equal(t, []int{409, 422}, crm.TerminalStatuses)

	cfg, err := crm.OutboundConfig(c.Outbound, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://crm.example.com/api", cfg.Transport.BaseURL)
	assert.Equal(t, 3, cfg.Queue.Attempts)
	assert.Equal(t, &jobqueue.Backoff{Kind: jobqueue.BackoffFixed, Delay: 2 * time.Second}, cfg.Queue.Backoff)
	require.NotNil(t, cfg.Breaker)
	assert.Equal(t, "outbound-crm", cfg.Breaker.Name)
	assert.Nil(t, cfg.Worker.Limiter)
	require.NotNil(t, cfg.Classifier)

	erp := c.Integrations[1]
	assert.Equal(t, "erp-v2", erp.Name)
	_, err = erp.OutboundConfig(c.Outbound, nil)
	require.Error(t, err)

	cfg, err = erp.OutboundConfig(c.Outbound, jobqueue.NewMemoryLimiterStore())
	require.NoError(t, err)
	assert.True(t, cfg.DisableWorker)
	assert.NotNil(t, cfg.Worker.Limiter)
	assert.Nil(t, cfg.Queue.Backoff)
	assert.Equal(t, c.Outbound.PollInterval, cfg.Worker.PollInterval)
}

func TestResolve_RejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"duplicate integration": {"OUTBOUND_INTEGRATIONS": "crm,CRM"},
		"relative base url":     {"OUTBOUND_INTEGRATIONS": "crm", "OUTBOUND_CRM_BASE_URL": "/api"},
		"custom backoff":        {"OUTBOUND_INTEGRATIONS": "crm", "OUTBOUND_CRM_BACKOFF": "custom"},
		"bad rate":              {"OUTBOUND_INTEGRATIONS": "crm", "OUTBOUND_CRM_RATE_LIMIT": "ten per second"},
		"bad status":            {"OUTBOUND_INTEGRATIONS": "crm", "OUTBOUND_CRM_TERMINAL_STATUSES": "42"},
		"zero concurrency":      {"OUTBOUND_INTEGRATIONS": "crm", "OUTBOUND_CRM_CONCURRENCY": "0"},
		"lease below poll":      {"OUTBOUND_LOCK_TTL": "1s", "OUTBOUND_POLL_INTERVAL": "2s"},
		"rate limit storage":    {"RATE_LIMIT_STORAGE": "memcached"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, environ)
			require.Error(t, err)
		})
	}
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "OUTBOUND_CRM_", EnvPrefix("crm"))
	assert.Equal(t, "OUTBOUND_ERP_V2_", EnvPrefix("erp-v2"))
}

func TestRedisClientOptions(t *testing.T) {
	r := RedisOptions{URL: "redis://:secret@cache:6380/2", DB: -1}
	opts, err := r.ClientOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	r = RedisOptions{URL: "redis://cache:6379/2", Password: "override", DB: 5}
	opts, err = r.ClientOptions()
	require.NoError(t, err)
	assert.Equal(t, "override", opts.Password)
	assert.Equal(t, 5, opts.DB)

	_, err = (&RedisOptions{URL: "http://cache"}).ClientOptions()
	require.Error(t, err)
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func requireMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}
