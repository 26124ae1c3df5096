package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	// Server
	Port        int    `mapstructure:"PORT"`
	Env         string `mapstructure:"APP_ENV"` // development | production
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// Storage
	DBPath string `mapstructure:"DB_PATH"`

	// Collaborators. Empty URLs select the static in-process versions.
	InventoryURL string        `mapstructure:"INVENTORY_URL"`
	VesselsURL   string        `mapstructure:"VESSELS_URL"`
	RecipesURL   string        `mapstructure:"RECIPES_URL"`
	HTTPTimeout  time.Duration `mapstructure:"HTTP_TIMEOUT"`

	// Business
	VolumeTolerance float64 `mapstructure:"VOLUME_TOLERANCE"`
	DefaultActor    string  `mapstructure:"DEFAULT_ACTOR"`
}

// Load reads configuration from environment variables and an optional .env
// file in the working directory.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with the .env lookup rooted at dir.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("DB_PATH", "lots.db")
	v.SetDefault("INVENTORY_URL", "")
	v.SetDefault("VESSELS_URL", "")
	v.SetDefault("RECIPES_URL", "")
	v.SetDefault("HTTP_TIMEOUT", "5s")
	v.SetDefault("VOLUME_TOLERANCE", 0.01)
	v.SetDefault("DEFAULT_ACTOR", "system")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.VolumeTolerance < 0 {
		return fmt.Errorf("VOLUME_TOLERANCE must not be negative: %v", c.VolumeTolerance)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

// Level is the parsed LOG_LEVEL. Unknown values were rejected by Load.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Origins splits CORS_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Tolerance is VOLUME_TOLERANCE in liters.
func (c *Config) Tolerance() decimal.Decimal {
	return decimal.NewFromFloat(c.VolumeTolerance)
}
