package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EVLOOP_"

// Config holds all application configuration.
type Config struct {
	Address      string
	Port         int
	BufferSize   int
	IdleTimeout  int // seconds, 0 disables
	WriteTimeout int // seconds
	Root         string
	StatsPath    string
	RateLimit    int // requests per second, 0 disables
	Env          string
	Debug        bool
}

// Default returns the configuration used when no flag or variable is set.
func Default() *Config {
	return &Config{
		Address:      "0.0.0.0",
		Port:         8080,
		BufferSize:   2048,
		IdleTimeout:  0,
		WriteTimeout: 10,
		Root:         ".",
		StatsPath:    "/_stats",
		Env:          "development",
	}
}

// New loads configuration from command-line flags and EVLOOP_* environment
// variables. Flags given explicitly win over the environment.
func New() *Config {
	cfg, err := Load(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Load registers the flags on fs, applies environment overrides from
// lookup and then parses args.
func Load(fs *flag.FlagSet, args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	fs.StringVar(&cfg.Address, "addr", cfg.Address, "listen address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "shared read buffer size (bytes)")
	fs.IntVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close idle connections after N seconds (0 disables)")
	fs.IntVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "write timeout (seconds)")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "directory served by the file server")
	fs.StringVar(&cfg.StatsPath, "stats-path", cfg.StatsPath, "path of the stats endpoint (empty disables)")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "max requests per second across all connections (0 disables)")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}

	strs := map[string]*string{
		"ADDRESS":    &c.Address,
		"ROOT":       &c.Root,
		"STATS_PATH": &c.StatsPath,
		"ENV":        &c.Env,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":          &c.Port,
		"BUFFER_SIZE":   &c.BufferSize,
		"IDLE_TIMEOUT":  &c.IdleTimeout,
		"WRITE_TIMEOUT": &c.WriteTimeout,
		"RATE_LIMIT":    &c.RateLimit,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		c.Debug = b
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.RateLimit)
	}
	if c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.StatsPath != "" && !strings.HasPrefix(c.StatsPath, "/") {
		return fmt.Errorf("stats path %q must start with /", c.StatsPath)
	}
	return nil
}

// IdleTimeoutDuration returns IdleTimeout as a time.Duration
func (c *Config) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

// WriteTimeoutDuration returns WriteTimeout as a time.Duration
func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}
