package library

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds client settings. Environment variables provide the values;
// CLI flags override them after Load.
type Config struct {
	APIURL      string        `env:"ELIBRARY_API_URL"      envDefault:"http://localhost:5000/api"`
	MediaOrigin string        `env:"ELIBRARY_MEDIA_ORIGIN" envDefault:"http://localhost:5000"`
	SessionDB   string        `env:"ELIBRARY_SESSION_DB"`
	Timeout     time.Duration `env:"ELIBRARY_TIMEOUT"      envDefault:"15s"`
	LogLevel    string        `env:"ELIBRARY_LOG_LEVEL"    envDefault:"warn"`
	LogFormat   string        `env:"ELIBRARY_LOG_FORMAT"   envDefault:"text"`
	Locale      string        `env:"ELIBRARY_LOCALE"       envDefault:"en-US"`
}

// LoadConfig reads the environment and fills derived defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionDB == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not find the user's home directory: %w", err)
		}
		cfg.SessionDB = filepath.Join(home, ".elibrary", "session.db")
	}
	return &cfg, nil
}

// Validate checks the values a run cannot work without.
func (c *Config) Validate() error {
	var errs []error
	if err := checkHTTPURL("api url", c.APIURL); err != nil {
		errs = append(errs, err)
	}
	if err := checkHTTPURL("media origin", c.MediaOrigin); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.SessionDB) == "" {
		errs = append(errs, errors.New("session db path is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func checkHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q: %w", name, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", name, raw)
	}
	return nil
}
