// Package config loads the broker settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every broker setting.
type Config struct {
	Host            string `env:"HOST,default=0.0.0.0"`
	Port            int    `env:"PORT,default=8000" validate:"min=1,max=65535"`
	ScriptsDir      string `env:"SCRIPTS_DIR,default=scripts" validate:"required"`
	PythonBin       string `env:"PYTHON_BIN,default=python3" validate:"required"`
	WorkersFile     string `env:"WORKERS_FILE"`
	DBPath          string `env:"DB_PATH,default=data/broker.db"`
	TranscriptDir   string `env:"TRANSCRIPT_DIR,default=data/transcripts"`
	HistoryLimit    int    `env:"HISTORY_LIMIT,default=50" validate:"min=1,max=10000"`
	ClientQueueSize int    `env:"CLIENT_QUEUE_SIZE,default=256" validate:"min=1"`
	DefaultRoom     string `env:"DEFAULT_ROOM,default=community" validate:"required,max=64,excludesall=/?#"`
	LogLevel        string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat       string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`
	AllowedOrigins  string `env:"ALLOWED_ORIGINS,default=*"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file. Like
// FromEnviron it does not validate.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	return FromEnviron(os.Environ())
}

// FromEnviron builds a Config from KEY=VALUE pairs. The result is not
// validated; callers apply their overrides and then call Validate.
func FromEnviron(environ []string) (*Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits ALLOWED_ORIGINS into its entries.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
