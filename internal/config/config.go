package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	Host                 string        `env:"HOST,default=127.0.0.1"`
	Port                 int           `env:"PORT,default=4000"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,default=./data/messages"`
	BadgerInMemory       bool          `env:"BADGER_IN_MEMORY,default=false"`
	UploadDir            string        `env:"UPLOAD_DIR,default=./data/uploads"`
	UploadPrefix         string        `env:"UPLOAD_PREFIX,default=/uploads/"`
	PublicBaseURL        string        `env:"PUBLIC_BASE_URL"`
	MaxUploadBytes       int           `env:"MAX_UPLOAD_BYTES,default=10485760"`
	SendBufferSize       int           `env:"SEND_BUFFER_SIZE,default=16"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=0"`
	TrustClientTimestamp bool          `env:"TRUST_CLIENT_TIMESTAMP,default=false"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}

// Load reads the process environment.
func Load() (Config, error) {
	var c Config
	if _, err := env.UnmarshalFromEnviron(&c); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.Port)
	case c.SendBufferSize <= 0:
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive, got %d", c.SendBufferSize)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	case c.HistoryLimit < 0:
		return fmt.Errorf("HISTORY_LIMIT must not be negative, got %d", c.HistoryLimit)
	case !strings.HasPrefix(c.UploadPrefix, "/"):
		return fmt.Errorf("UPLOAD_PREFIX must start with '/', got %q", c.UploadPrefix)
	case !c.BadgerInMemory && c.BadgerFilepath == "":
		return fmt.Errorf("BADGER_FILEPATH is required unless BADGER_IN_MEMORY is set")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
