// Package config loads process settings from the environment, optionally
// seeded from a YAML file named by CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Port        string `yaml:"port"`
	Env         string `yaml:"env"`
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`

	LLMBaseURL string        `yaml:"llm_base_url"`
	LLMModel   string        `yaml:"llm_model"`
	LLMAPIKey  string        `yaml:"llm_api_key"`
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	PollInterval       time.Duration `yaml:"poll_interval"`
	WorkerPollInterval time.Duration `yaml:"worker_poll_interval"`
	StageTimeout       time.Duration `yaml:"stage_timeout"`
	GenerationWorkers  int           `yaml:"generation_workers"`
	ValidationWorkers  int           `yaml:"validation_workers"`
	IndexingWorkers    int           `yaml:"indexing_workers"`
	EmbeddedWorkers    bool          `yaml:"embedded_workers"`
	WorkerID           string        `yaml:"worker_id"`

	AMQPURL      string   `yaml:"amqp_url"`
	AMQPQueue    string   `yaml:"amqp_queue"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	EmailAPIKey string `yaml:"email_api_key"`
	FromName    string `yaml:"from_name"`
	FromAddress string `yaml:"from_address"`
	NotifyEmail string `yaml:"notify_email"`
}

func defaults() *Config {
	return &Config{
		Port:               "8080",
		Env:                "production",
		Backend:            BackendMemory,
		RedisAddr:          "localhost:6379",
		LLMBaseURL:         "http://localhost:1234/v1",
		LLMTimeout:         120 * time.Second,
		PollInterval:       time.Second,
		WorkerPollInterval: 100 * time.Millisecond,
		StageTimeout:       5 * time.Minute,
		GenerationWorkers:  2,
		ValidationWorkers:  2,
		IndexingWorkers:    1,
		EmbeddedWorkers:    true,
		AMQPQueue:          "forgeq.task_events",
		KafkaTopic:         "forgeq-task-events",
		FromName:           "forgeq",
	}
}

// Load returns the defaults, overlaid by CONFIG_FILE when set, overlaid by the
// environment.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.Backend = strings.ToLower(getEnv("BACKEND", cfg.Backend))
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.LLMAPIKey = getEnv("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMTimeout = getEnvAsDuration("LLM_TIMEOUT", cfg.LLMTimeout)

	cfg.PollInterval = getEnvAsDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.WorkerPollInterval = getEnvAsDuration("WORKER_POLL_INTERVAL", cfg.WorkerPollInterval)
	cfg.StageTimeout = getEnvAsDuration("STAGE_TIMEOUT", cfg.StageTimeout)
	cfg.GenerationWorkers = getEnvAsInt("GENERATION_WORKERS", cfg.GenerationWorkers)
	cfg.ValidationWorkers = getEnvAsInt("VALIDATION_WORKERS", cfg.ValidationWorkers)
	cfg.IndexingWorkers = getEnvAsInt("INDEXING_WORKERS", cfg.IndexingWorkers)
	cfg.EmbeddedWorkers = getEnvAsBool("EMBEDDED_WORKERS", cfg.EmbeddedWorkers)
	cfg.WorkerID = getEnv("WORKER_ID", cfg.WorkerID)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.EmailAPIKey = getEnv("EMAIL_API_KEY", cfg.EmailAPIKey)
	cfg.FromName = getEnv("FROM_NAME", cfg.FromName)
	cfg.FromAddress = getEnv("FROM_ADDRESS", cfg.FromAddress)
	cfg.NotifyEmail = getEnv("NOTIFY_EMAIL", cfg.NotifyEmail)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendMemory && !c.EmbeddedWorkers {
		return fmt.Errorf("memory backend requires embedded workers")
	}
	for name, n := range map[string]int{
		"GENERATION_WORKERS": c.GenerationWorkers,
		"VALIDATION_WORKERS": c.ValidationWorkers,
		"INDEXING_WORKERS":   c.IndexingWorkers,
	} {
		if n < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

func (c *Config) Development() bool {
	return c.Env == "development"
}

func (c *Config) EmailEnabled() bool {
	return c.EmailAPIKey != "" && c.NotifyEmail != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
