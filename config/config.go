package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/constants"
)

// Config is the runtime configuration of one node. It is built once at
// startup and handed to the components that need it.
type Config struct {
	Port          int
	AdvertiseHost string
	BootstrapHost string
	BootstrapPort int
	HTTPPort      int

	DataDir string
	KeyFile string

	K                     int
	ChunkSize             int
	RequestTimeout        time.Duration
	MaxConcurrentHandlers int64
	ReplicateChunks       bool

	LogLevel string
}

// Default returns a configuration populated from constants only.
func Default() *Config {
	return &Config{
		Port:                  constants.DefaultPort,
		AdvertiseHost:         constants.DefaultHost,
		K:                     constants.K,
		ChunkSize:             constants.ChunkSize,
		RequestTimeout:        constants.RequestTimeout,
		MaxConcurrentHandlers: constants.MaxConcurrentHandlers,
		LogLevel:              "info",
	}
}

// Load reads an optional .env file and the process environment on top of
// the defaults. A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()

	var err error
	if cfg.Port, err = envInt("DECEN_PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.HTTPPort, err = envInt("DECEN_HTTP_PORT", cfg.HTTPPort); err != nil {
		return nil, err
	}
	if cfg.K, err = envInt("DECEN_K", cfg.K); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = envInt("DECEN_CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	handlers, err := envInt("DECEN_MAX_HANDLERS", int(cfg.MaxConcurrentHandlers))
	if err != nil {
		return nil, err
	}
	cfg.MaxConcurrentHandlers = int64(handlers)

	if v := os.Getenv("DECEN_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("DECEN_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("DECEN_REPLICATE_CHUNKS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("DECEN_REPLICATE_CHUNKS: %w", err)
		}
		cfg.ReplicateChunks = b
	}
	if v := os.Getenv("DECEN_HOST"); v != "" {
		cfg.AdvertiseHost = v
	}
	if v := os.Getenv("DECEN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// HasBootstrap reports whether a bootstrap peer was configured.
func (c *Config) HasBootstrap() bool {
	return c.BootstrapHost != "" && c.BootstrapPort > 0
}

// ResolveDataDir fills DataDir and KeyFile from the listen port when they
// were not set explicitly (data_<port>/, as the node always did).
func (c *Config) ResolveDataDir() {
	if c.DataDir == "" {
		c.DataDir = fmt.Sprintf("%s%d", constants.DataDirPrefix, c.Port)
	}
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.DataDir, constants.KeyFileName)
	}
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.BootstrapHost != "" && (c.BootstrapPort <= 0 || c.BootstrapPort > 65535) {
		return fmt.Errorf("invalid bootstrap port %d", c.BootstrapPort)
	}
	if c.K <= 0 {
		return fmt.Errorf("bucket size must be positive, got %d", c.K)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxConcurrentHandlers <= 0 {
		return fmt.Errorf("max concurrent handlers must be positive, got %d", c.MaxConcurrentHandlers)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// ConfigureLogging applies the configured log level to the global logger.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
