package env

import (
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/santoshvandari/go-redis-cache/cache"
	"github.com/santoshvandari/go-redis-cache/logger"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the matching flag is not set.
const (
	EnvRedisHost     = "REDIS_HOST"
	EnvRedisPort     = "REDIS_PORT"
	EnvRedisTimeout  = "REDIS_TIMEOUT"
	EnvRedisURL      = "REDIS_URL"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"
	EnvRedisPrefix   = "REDIS_PREFIX"
)

// File is the optional YAML configuration file. Durations accept anything
// ParseDuration does.
type File struct {
	LogLevel string    `yaml:"log_level"`
	Listen   string    `yaml:"listen"`
	Redis    RedisFile `yaml:"redis"`
}

type RedisFile struct {
	Hostname string      `yaml:"hostname"`
	Port     int         `yaml:"port"`
	Timeout  string      `yaml:"timeout"`
	URL      string      `yaml:"url"`
	Password string      `yaml:"password"`
	DB       int         `yaml:"db"`
	Prefix   string      `yaml:"prefix"`
	Breaker  BreakerFile `yaml:"breaker"`
}

type BreakerFile struct {
	MaxFailures *int   `yaml:"max_failures"`
	Cooldown    string `yaml:"cooldown"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} with the value of VAR, leaving unknown variables untouched.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		if val, ok := os.LookupEnv(string(match[2 : len(match)-1])); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadFile reads a YAML configuration file. An empty path returns an empty File.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var f File
	if err := yaml.Unmarshal(expandEnv(data), &f); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return &f, nil
}

// ParseDuration parses values such as "5s", "1m30s" or "1d". A bare integer is
// a number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return d, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then REDIS_CACHE_LOG_LEVEL, then fallback.
// Unknown names resolve to info.
func LogLevel(cmd *cobra.Command, fallback string) logger.LogLevel {
	if fallback == "" {
		fallback = "info"
	}
	level, _ := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, fallback))
	return level
}

// NewLogger returns a console logger at the level chosen by LogLevel.
func NewLogger(cmd *cobra.Command, fallback string) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd, fallback))
}

// StoreConfig builds the Redis configuration. Each setting is taken from its
// flag, then its environment variable, then the file, then cache.DefaultConfig.
func StoreConfig(cmd *cobra.Command, f *File) (cache.Config, error) {
	cfg := cache.DefaultConfig()
	if f == nil {
		f = &File{}
	}
	r := f.Redis

	cfg.Hostname = FlagOrEnv(cmd, "redis-host", EnvRedisHost, orDefault(r.Hostname, cfg.Hostname))
	cfg.URL = FlagOrEnv(cmd, "redis-url", EnvRedisURL, r.URL)
	cfg.Password = FlagOrEnv(cmd, "redis-password", EnvRedisPassword, r.Password)
	cfg.Prefix = FlagOrEnv(cmd, "redis-prefix", EnvRedisPrefix, r.Prefix)

	port := cfg.Port
	if r.Port != 0 {
		port = r.Port
	}
	var err error
	if cfg.Port, err = intSetting(cmd, "redis-port", EnvRedisPort, port); err != nil {
		return cfg, err
	}
	if cfg.DB, err = intSetting(cmd, "redis-db", EnvRedisDB, r.DB); err != nil {
		return cfg, err
	}

	timeout := FlagOrEnv(cmd, "redis-timeout", EnvRedisTimeout, r.Timeout)
	if timeout != "" {
		if cfg.Timeout, err = ParseDuration(timeout); err != nil {
			return cfg, errors.Wrap(err, "redis timeout")
		}
	}

	if r.Breaker.MaxFailures != nil {
		cfg.Breaker.MaxFailures = *r.Breaker.MaxFailures
	}
	if r.Breaker.Cooldown != "" {
		if cfg.Breaker.Cooldown, err = ParseDuration(r.Breaker.Cooldown); err != nil {
			return cfg, errors.Wrap(err, "breaker cooldown")
		}
	}
	return cfg, nil
}

func intSetting(cmd *cobra.Command, flagName, envName string, defaultValue int) (int, error) {
	val := FlagOrEnv(cmd, flagName, envName, strconv.Itoa(defaultValue))
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", flagName)
	}
	return n, nil
}

func orDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
