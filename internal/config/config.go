package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config is populated from the environment (and an optional .env file).
type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	DBDSN     string `envconfig:"DB_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// Reply orchestration knobs.
	GenerateTimeout time.Duration `envconfig:"GENERATE_TIMEOUT" default:"30s"`
	HistorySize     int           `envconfig:"HISTORY_SIZE" default:"20"`
	ReplyDelay      time.Duration `envconfig:"REPLY_DELAY" default:"1s"`

	OpenAIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "process env config")
	}
	if cfg.HistorySize < 0 {
		cfg.HistorySize = 0
	}
	return cfg, nil
}
