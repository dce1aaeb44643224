package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Port               string
	LogLevel           string
	DataDir            string
	RateLimitPerMinute int
	MaxBodySizeBytes   int64
	ShutdownTimeout    time.Duration

	// CacheMaxBytes bounds the cluster summary cache.
	CacheMaxBytes int64

	// Detector calibration windows. Governance-tunable, see DetectorConfig.
	TrustWashWindow time.Duration
	BoostWindow     time.Duration
	RapidWindow     time.Duration
}

// Default values
const (
	DefaultRateLimitPerMinute = 100
	DefaultMaxBodySizeBytes   = 1 << 20 // 1MB
	DefaultDataDir            = "./data"
	DefaultShutdownTimeout    = 30 * time.Second
)

// DetectorConfig returns the detector windows carried by this config.
func (c *Config) DetectorConfig() DetectorConfig {
	return DetectorConfig{
		TrustWashWindow: c.TrustWashWindow,
		BoostWindow:     c.BoostWindow,
		RapidWindow:     c.RapidWindow,
	}
}

// LoadConfig reads configuration from an optional YAML file named by
// CONFIG_FILE, then applies environment variables on top. Environment
// always wins over the file.
func LoadConfig() *Config {
	cfg := &Config{
		Port:               "8080",
		LogLevel:           "info",
		DataDir:            DefaultDataDir,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		MaxBodySizeBytes:   DefaultMaxBodySizeBytes,
		ShutdownTimeout:    DefaultShutdownTimeout,
		CacheMaxBytes:      defaultCacheMaxBytes,
		TrustWashWindow:    24 * time.Hour,
		BoostWindow:        time.Hour,
		RapidWindow:        24 * time.Hour,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			// Logger is not initialized yet during config load.
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	if rateLimitEnv := os.Getenv("RATE_LIMIT_PER_MINUTE"); rateLimitEnv != "" {
		if rateLimit, err := strconv.Atoi(rateLimitEnv); err == nil && rateLimit > 0 {
			cfg.RateLimitPerMinute = rateLimit
		}
	}

	if maxBodyEnv := os.Getenv("MAX_BODY_SIZE_BYTES"); maxBodyEnv != "" {
		if maxBody, err := strconv.ParseInt(maxBodyEnv, 10, 64); err == nil && maxBody > 0 {
			cfg.MaxBodySizeBytes = maxBody
		}
	}

	if shutdownTimeout := os.Getenv("SHUTDOWN_TIMEOUT"); shutdownTimeout != "" {
		if duration, err := time.ParseDuration(shutdownTimeout); err == nil {
			cfg.ShutdownTimeout = duration
		}
	}

	if cacheEnv := os.Getenv("CACHE_MAX_BYTES"); cacheEnv != "" {
		if cacheBytes, err := strconv.ParseInt(cacheEnv, 10, 64); err == nil && cacheBytes > 0 {
			cfg.CacheMaxBytes = cacheBytes
		}
	}

	if windowEnv := os.Getenv("TRUST_WASH_WINDOW"); windowEnv != "" {
		if duration, err := time.ParseDuration(windowEnv); err == nil && duration > 0 {
			cfg.TrustWashWindow = duration
		}
	}

	if windowEnv := os.Getenv("BOOST_WINDOW"); windowEnv != "" {
		if duration, err := time.ParseDuration(windowEnv); err == nil && duration > 0 {
			cfg.BoostWindow = duration
		}
	}

	if windowEnv := os.Getenv("RAPID_WINDOW"); windowEnv != "" {
		if duration, err := time.ParseDuration(windowEnv); err == nil && duration > 0 {
			cfg.RapidWindow = duration
		}
	}

	return cfg
}

// fileConfig mirrors Config for YAML decoding. Durations are strings in
// time.ParseDuration form.
type fileConfig struct {
	Port               string `yaml:"port"`
	LogLevel           string `yaml:"logLevel"`
	DataDir            string `yaml:"dataDir"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
	MaxBodySizeBytes   int64  `yaml:"maxBodySizeBytes"`
	ShutdownTimeout    string `yaml:"shutdownTimeout"`
	CacheMaxBytes      int64  `yaml:"cacheMaxBytes"`
	TrustWashWindow    string `yaml:"trustWashWindow"`
	BoostWindow        string `yaml:"boostWindow"`
	RapidWindow        string `yaml:"rapidWindow"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.RateLimitPerMinute > 0 {
		c.RateLimitPerMinute = fc.RateLimitPerMinute
	}
	if fc.MaxBodySizeBytes > 0 {
		c.MaxBodySizeBytes = fc.MaxBodySizeBytes
	}
	if fc.CacheMaxBytes > 0 {
		c.CacheMaxBytes = fc.CacheMaxBytes
	}
	for _, field := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.ShutdownTimeout, &c.ShutdownTimeout},
		{fc.TrustWashWindow, &c.TrustWashWindow},
		{fc.BoostWindow, &c.BoostWindow},
		{fc.RapidWindow, &c.RapidWindow},
	} {
		if field.raw == "" {
			continue
		}
		duration, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("failed to parse duration %q: %w", field.raw, err)
		}
		*field.dst = duration
	}
	return nil
}
