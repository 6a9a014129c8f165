package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Centralized default configuration values
const (
	DefaultPort        = 10000
	DefaultScratchDir  = "downloads"
	DefaultCookiesFile = "cookies.txt"
	DefaultYtdlpPath   = "yt-dlp"

	// Retry policy
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 2 * time.Second
	DefaultJitterMin    = 1500 * time.Millisecond
	DefaultJitterMax    = 3500 * time.Millisecond

	DefaultExtractTimeout         = 15 * time.Minute
	DefaultMaxConcurrentDownloads = 8

	// Rate Limiting
	DefaultRequestsPerSecond = 10
	DefaultBurstSize         = 20

	// Record expiration
	DefaultRecordTTL = 24 * time.Hour

	// Scratch directory sweeping
	DefaultScratchTTL    = 1 * time.Hour
	DefaultSweepInterval = 10 * time.Minute

	ShutdownTimeout = 30 * time.Second
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Config is built once at startup and passed to the server.
type Config struct {
	Port        int    `yaml:"port"`
	ScratchDir  string `yaml:"scratch_dir"`
	CookiesFile string `yaml:"cookies_file"`
	YtdlpPath   string `yaml:"ytdlp_path"`

	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	JitterMin    time.Duration `yaml:"jitter_min"`
	JitterMax    time.Duration `yaml:"jitter_max"`

	ExtractTimeout         time.Duration `yaml:"extract_timeout"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RecordTTL     time.Duration `yaml:"record_ttl"`

	ScratchTTL    time.Duration `yaml:"scratch_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	UserAgents []string `yaml:"user_agents"`
	LogLevel   string   `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Port:                   DefaultPort,
		ScratchDir:             DefaultScratchDir,
		CookiesFile:            DefaultCookiesFile,
		YtdlpPath:              DefaultYtdlpPath,
		MaxAttempts:            DefaultMaxAttempts,
		InitialDelay:           DefaultInitialDelay,
		JitterMin:              DefaultJitterMin,
		JitterMax:              DefaultJitterMax,
		ExtractTimeout:         DefaultExtractTimeout,
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		RequestsPerSecond:      DefaultRequestsPerSecond,
		BurstSize:              DefaultBurstSize,
		RecordTTL:              DefaultRecordTTL,
		ScratchTTL:             DefaultScratchTTL,
		SweepInterval:          DefaultSweepInterval,
		UserAgents:             append([]string(nil), defaultUserAgents...),
		LogLevel:               "info",
	}
}

// LoadConfig layers the YAML file (if any) and then the environment over the defaults.
// A missing file is only an error when required is set.
func LoadConfig(path string, required bool) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
		return nil
	}

	str("SCRATCH_DIR", &c.ScratchDir)
	str("COOKIES_FILE", &c.CookiesFile)
	str("YTDLP_PATH", &c.YtdlpPath)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("LOG_LEVEL", &c.LogLevel)

	for _, err := range []error{
		num("PORT", &c.Port),
		num("MAX_ATTEMPTS", &c.MaxAttempts),
		num("MAX_CONCURRENT_DOWNLOADS", &c.MaxConcurrentDownloads),
		num("REDIS_DB", &c.RedisDB),
		dur("INITIAL_DELAY", &c.InitialDelay),
		dur("EXTRACT_TIMEOUT", &c.ExtractTimeout),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port out of range: %d", c.Port)
	case c.ScratchDir == "":
		return errors.New("scratch_dir must not be empty")
	case c.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	case c.InitialDelay < 0:
		return fmt.Errorf("initial_delay must not be negative")
	case c.JitterMin < 0 || c.JitterMax < c.JitterMin:
		return fmt.Errorf("invalid jitter range %s-%s", c.JitterMin, c.JitterMax)
	case c.MaxConcurrentDownloads < 1:
		return fmt.Errorf("max_concurrent_downloads must be at least 1, got %d", c.MaxConcurrentDownloads)
	case c.RequestsPerSecond <= 0 || c.BurstSize < 1:
		return fmt.Errorf("invalid rate limit %v req/s (burst %d)", c.RequestsPerSecond, c.BurstSize)
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}
