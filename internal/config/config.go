// Package config loads process settings and the YAML task file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "http://127.0.0.1:8000"

type Config struct {
	Addr         string
	DBPath       string
	TasksFile    string
	BaseURL      string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
	Workers      int
	LogLevel     string
	LogFile      string
	LogMaxSizeMB int
	Debug        bool
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		DBPath:       "chainflow.db",
		TasksFile:    "config/tasks.yaml",
		PollInterval: time.Second,
		HTTPTimeout:  300 * time.Second,
		Workers:      4,
		LogLevel:     "info",
		LogMaxSizeMB: 50,
	}
}

// Load returns the defaults overridden by CHAINFLOW_* variables. Variables
// from envFile are loaded first without replacing ones already set; a
// missing file is ignored. BaseURL stays empty unless CHAINFLOW_BASE_URL is
// set, so the task file can supply it.
func Load(envFile string) Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", envFile).Msg("cannot read env file")
		}
	}

	cfg := Default()
	cfg.Addr = getEnv("CHAINFLOW_ADDR", cfg.Addr)
	cfg.DBPath = getEnv("CHAINFLOW_DB", cfg.DBPath)
	cfg.TasksFile = getEnv("CHAINFLOW_TASKS_FILE", cfg.TasksFile)
	cfg.BaseURL = getEnv("CHAINFLOW_BASE_URL", "")
	cfg.PollInterval = getEnvDuration("CHAINFLOW_POLL_INTERVAL", cfg.PollInterval)
	cfg.HTTPTimeout = getEnvDuration("CHAINFLOW_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.Workers = getEnvInt("CHAINFLOW_WORKERS", cfg.Workers)
	cfg.LogLevel = getEnv("CHAINFLOW_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("CHAINFLOW_LOG_FILE", cfg.LogFile)
	cfg.LogMaxSizeMB = getEnvInt("CHAINFLOW_LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB)
	cfg.Debug = getEnvBool("CHAINFLOW_DEBUG", cfg.Debug)
	return cfg
}

// ResolveBaseURL picks the endpoint base: explicit setting, then the task
// file, then DefaultBaseURL.
func (c Config) ResolveBaseURL(tf TaskFile) string {
	switch {
	case c.BaseURL != "":
		return c.BaseURL
	case tf.BaseURL != "":
		return tf.BaseURL
	default:
		return DefaultBaseURL
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("not an integer, using default")
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("not a duration, using default")
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
