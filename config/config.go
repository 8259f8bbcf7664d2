package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMetricsAddr    = ":9090"
	defaultLogLevel       = "info"
	defaultLogEnv         = "prod"
	defaultTimeout        = 30 * time.Second
	defaultConcurrency    = 4
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
	defaultWatchInterval  = time.Minute
)

type Config struct {
	MetricsAddr string   `yaml:"metricsAddr"`
	Log         Log      `yaml:"log"`
	Registry    Registry `yaml:"registry"`
	Replay      Replay   `yaml:"replay"`
	Journal     Journal  `yaml:"journal"`
	Watch       Watch    `yaml:"watch"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type Registry struct {
	BaseURL string        `yaml:"baseUrl"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type Replay struct {
	Concurrency    int           `yaml:"concurrency"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`
	DryRun         bool          `yaml:"dryRun"`
}

type Journal struct {
	Path string `yaml:"path"`
}

type Watch struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads yaml config from path, then applies defaults and
// environment overrides. A missing config file is tolerated so the
// tool can run from environment variables alone, the usual case in CI.
func Load(path string) (*Config, error) {
	configFile := true
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Default().Debug("no config file found, using defaults and environment", "path", path)
		configFile = false
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = defaultLogEnv
	}
	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = defaultTimeout
	}
	if cfg.Replay.Concurrency == 0 {
		cfg.Replay.Concurrency = defaultConcurrency
	}
	if cfg.Replay.MaxAttempts == 0 {
		cfg.Replay.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Replay.RetryBaseDelay == 0 {
		cfg.Replay.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.Replay.RetryMaxDelay == 0 {
		cfg.Replay.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.Watch.Interval == 0 {
		cfg.Watch.Interval = defaultWatchInterval
	}
}

func (cfg *Config) applyEnv() {
	if baseURL := os.Getenv("REGISTRY_REPLAY_BASE_URL"); baseURL != "" {
		cfg.Registry.BaseURL = baseURL
	}
	if token := os.Getenv("REGISTRY_REPLAY_TOKEN"); token != "" {
		cfg.Registry.Token = token
	}
	if timeout := os.Getenv("REGISTRY_REPLAY_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Registry.Timeout = d
		} else {
			slog.Default().Warn("fail parse timeout as duration", "timeout", timeout, "error", err)
		}
	}
	if concurrency := os.Getenv("REGISTRY_REPLAY_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil {
			cfg.Replay.Concurrency = n
		} else {
			slog.Default().Warn("fail parse concurrency as int", "concurrency", concurrency, "error", err)
		}
	}
	if attempts := os.Getenv("REGISTRY_REPLAY_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			cfg.Replay.MaxAttempts = n
		} else {
			slog.Default().Warn("fail parse max attempts as int", "attempts", attempts, "error", err)
		}
	}
	if dryRun := os.Getenv("REGISTRY_REPLAY_DRY_RUN"); dryRun != "" {
		switch strings.ToLower(dryRun) {
		case "true":
			cfg.Replay.DryRun = true
		case "false":
			cfg.Replay.DryRun = false
		default:
			slog.Default().Warn("fail parse dry run as bool", "dryRun", dryRun)
		}
	}
	if journalPath := os.Getenv("REGISTRY_REPLAY_JOURNAL_PATH"); journalPath != "" {
		cfg.Journal.Path = journalPath
	}
	if watchDir := os.Getenv("REGISTRY_REPLAY_WATCH_DIR"); watchDir != "" {
		cfg.Watch.Dir = watchDir
	}
	if interval := os.Getenv("REGISTRY_REPLAY_WATCH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Watch.Interval = d
		} else {
			slog.Default().Warn("fail parse watch interval as duration", "interval", interval, "error", err)
		}
	}
	if metricsAddr := os.Getenv("REGISTRY_REPLAY_METRICS_ADDR"); metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if logLevel := os.Getenv("REGISTRY_REPLAY_LOG_LEVEL"); logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logEnv := os.Getenv("REGISTRY_REPLAY_LOG_ENV"); logEnv != "" {
		cfg.Log.Env = logEnv
	}
}
