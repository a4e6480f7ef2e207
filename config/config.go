package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, populated from the environment.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Port     int    `env:"PORT" envDefault:"3000"`
	BaseURL  string `env:"BASE_URL"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DATABASE_URL, when set, takes precedence over the DB_* parts.
	DatabaseURL string `env:"DATABASE_URL"`
	DB          DBConfig
	Stripe      StripeConfig
}

type DBConfig struct {
	User     string `env:"DB_USER" envDefault:"root"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port     string `env:"DB_PORT" envDefault:"3306"`
	Name     string `env:"DB_NAME" envDefault:"billing"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	PriceBasic    string `env:"STRIPE_PRICE_BASIC,required"`
	PricePro      string `env:"STRIPE_PRICE_PRO,required"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	// The .env file might not exist and that's ok.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	checks := []struct {
		name, value, prefix string
	}{
		{"STRIPE_SECRET_KEY", c.Stripe.SecretKey, "sk_"},
		{"STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret, "whsec_"},
		{"STRIPE_PRICE_BASIC", c.Stripe.PriceBasic, "price_"},
		{"STRIPE_PRICE_PRO", c.Stripe.PricePro, "price_"},
	}
	for _, ch := range checks {
		if !strings.HasPrefix(ch.value, ch.prefix) {
			return fmt.Errorf("environment validation failed: %s must start with %q", ch.name, ch.prefix)
		}
	}
	return nil
}

// ClientBaseURL returns the base URL used to build checkout/portal redirect
// targets. In development that is the Vite dev server.
func (c *Config) ClientBaseURL() string {
	if c.AppEnv == "production" {
		if c.BaseURL != "" {
			return c.BaseURL
		}
		return fmt.Sprintf("http://localhost:%d", c.Port)
	}
	return "http://localhost:5173"
}
