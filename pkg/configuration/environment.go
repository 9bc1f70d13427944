package configuration

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/jobqueue/redis"
	"github.com/iota-uz/outbound/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		panic(err)
	}
	return c
})

// LoadEnv loads the env files found in the working directory. When none is
// there it falls back to the nearest parent holding a go.mod, so commands run
// from a package directory still see the repo's .env files.
func LoadEnv(envFiles []string) (int, error) {
	wd, err := os.Getwd()
	if err != nil {
		return 0, err
	}

	existing := existingFiles(wd, envFiles)
	if len(existing) == 0 {
		if root, ok := moduleRoot(wd); ok && root != wd {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot(dir string) (string, bool) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type RedisOptions struct {
	URL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"-1"`
}

// ClientOptions parses REDIS_URL; REDIS_PASSWORD and a non-negative REDIS_DB override the URL.
func (r *RedisOptions) ClientOptions() (*goredis.Options, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if r.Password != "" {
		opts.Password = r.Password
	}
	if r.DB >= 0 {
		opts.DB = r.DB
	}
	return opts, nil
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"outbound"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type RateLimitOptions struct {
	Storage string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"` // memory or redis
	Prefix  string `env:"RATE_LIMIT_PREFIX" envDefault:"outbound:ratelimit"`
}

func (r *RateLimitOptions) Validate() error {
	if r.Storage != "memory" && r.Storage != "redis" {
		return fmt.Errorf("rate limit Storage must be 'memory' or 'redis', got '%s'", r.Storage)
	}
	return nil
}

// OutboundOptions are shared by every integration.
type OutboundOptions struct {
	Integrations    []string `env:"OUTBOUND_INTEGRATIONS" envSeparator:","`
	KeyPrefix       string   `env:"OUTBOUND_KEY_PREFIX" envDefault:"outbound"`
	QueueNamespace  string   `env:"OUTBOUND_QUEUE_REDIS_NAMESPACE" envDefault:"outbound-queue"`
	WorkerNamespace string   `env:"OUTBOUND_WORKER_REDIS_NAMESPACE" envDefault:"outbound-worker"`

	PollInterval      time.Duration `env:"OUTBOUND_POLL_INTERVAL" envDefault:"1s"`
	LockTTL           time.Duration `env:"OUTBOUND_LOCK_TTL" envDefault:"60s"`
	ShutdownGrace     time.Duration `env:"OUTBOUND_SHUTDOWN_GRACE" envDefault:"30s"`
	MaxBackoff        time.Duration `env:"OUTBOUND_MAX_BACKOFF" envDefault:"1h"`
	DeadLetterMaxLen  int           `env:"OUTBOUND_DEAD_LETTER_MAX_LEN" envDefault:"1000"`
	ObserveDepthEvery time.Duration `env:"OUTBOUND_OBSERVE_DEPTH_EVERY" envDefault:"10s"`
}

func (o *OutboundOptions) Validate() error {
	if o.LockTTL <= o.PollInterval {
		return fmt.Errorf("OUTBOUND_LOCK_TTL (%s) must exceed OUTBOUND_POLL_INTERVAL (%s)", o.LockTTL, o.PollInterval)
	}
	if o.DeadLetterMaxLen < 0 {
		return fmt.Errorf("OUTBOUND_DEAD_LETTER_MAX_LEN must be non-negative, got %d", o.DeadLetterMaxLen)
	}
	seen := make(map[string]bool, len(o.Integrations))
	names := o.Integrations[:0]
	for _, name := range o.Integrations {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if seen[name] {
			return fmt.Errorf("OUTBOUND_INTEGRATIONS lists %q twice", name)
		}
		seen[name] = true
		names = append(names, name)
	}
	o.Integrations = names
	return nil
}

type CronOptions struct {
	Enabled             bool          `env:"CRON_ENABLED" envDefault:"true"`
	QueueDepthSchedule  string        `env:"CRON_QUEUE_DEPTH_SCHEDULE" envDefault:"@every 1m"`
	DeadLetterSchedule  string        `env:"CRON_DEAD_LETTER_SWEEP_SCHEDULE" envDefault:"0 3 * * *"`
	DeadLetterRetention time.Duration `env:"CRON_DEAD_LETTER_RETENTION" envDefault:"168h"`
}

// OpsOptions guard the ops HTTP surface. The guard only applies once a CIDR,
// token or basic-auth pair is configured.
type OpsOptions struct {
	GuardEnabled       bool   `env:"OPS_GUARD_ENABLED" envDefault:"true"`
	GuardCIDRs         string `env:"OPS_GUARD_CIDRS"`
	GuardToken         string `env:"OPS_GUARD_TOKEN"`
	GuardBasicAuthUser string `env:"OPS_GUARD_BASIC_AUTH_USER"`
	GuardBasicAuthPass string `env:"OPS_GUARD_BASIC_AUTH_PASS"`
	// The ops server looks for this header and generates a uuid when it is absent.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	RealIPHeader    string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`
}

type Configuration struct {
	Redis         RedisOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	RateLimit     RateLimitOptions
	Outbound      OutboundOptions
	Cron          CronOptions
	Ops           OpsOptions

	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	SocketAddress    string `env:"-"`

	// Integrations holds one entry per OUTBOUND_INTEGRATIONS name, in order.
	Integrations []IntegrationOptions `env:"-"`

	logger *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	return logging.ParseLevel(c.LogLevel)
}

func Use() *Configuration {
	return singleton()
}

// Load reads the configuration without touching the process-wide singleton.
func Load(envFiles ...string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 && len(envFiles) > 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	return c.resolve(env.ToMap(os.Environ()))
}

// resolve validates the parsed values and reads the per-integration blocks from environ.
func (c *Configuration) resolve(environ map[string]string) error {
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration error: %w", err)
	}
	if err := c.Outbound.Validate(); err != nil {
		return fmt.Errorf("outbound configuration error: %w", err)
	}

	c.Integrations = make([]IntegrationOptions, 0, len(c.Outbound.Integrations))
	var errs []error
	for _, name := range c.Outbound.Integrations {
		io, err := LoadIntegration(name, environ)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.Integrations = append(c.Integrations, io)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	return nil
}
