// Package config provides configuration management for the callback host
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/spinclient/pkg/spinclient"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Provider ProviderConfig `mapstructure:"provider"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Game     GameConfig     `mapstructure:"game"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the replay-guard store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig holds the game provider credentials
type ProviderConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APILogin    string        `mapstructure:"api_login"`
	APIPassword string        `mapstructure:"api_password"`
	Salt        string        `mapstructure:"salt"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// CallbackMaxAge rejects callbacks whose timestamp is older than this
	CallbackMaxAge time.Duration `mapstructure:"callback_max_age"`
	HomeURL        string        `mapstructure:"home_url"`
	CashierURL     string        `mapstructure:"cashier_url"`
}

// Client returns the SDK configuration
func (p ProviderConfig) Client() spinclient.Config {
	return spinclient.Config{
		Endpoint:    p.Endpoint,
		APILogin:    p.APILogin,
		APIPassword: p.APIPassword,
		Timeout:     p.Timeout,
	}
}

// AuthConfig holds player authentication configuration
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	// AdminToken guards the operator endpoints. Empty disables them.
	AdminToken  string        `mapstructure:"admin_token"`
}

// GameConfig holds game-related configuration
type GameConfig struct {
	DefaultCurrency string `mapstructure:"default_currency"`
	DefaultLang     string `mapstructure:"default_lang"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from an optional yaml file and the environment.
// Environment variables win and use the SPIN_ prefix with underscores for
// nesting: SPIN_PROVIDER_SALT, SPIN_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost dbname=spin sslmode=disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("provider.endpoint", "")
	v.SetDefault("provider.api_login", "")
	v.SetDefault("provider.api_password", "")
	v.SetDefault("provider.salt", "")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.callback_max_age", "5m")
	v.SetDefault("provider.home_url", "")
	v.SetDefault("provider.cashier_url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiry", "24h")
	v.SetDefault("auth.admin_token", "")
	v.SetDefault("game.default_currency", "USD")
	v.SetDefault("game.default_lang", "en")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SPIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	if err := c.Provider.Client().Validate(); err != nil {
		return err
	}
	if c.Provider.Salt == "" {
		return errors.New("provider salt is required to verify callbacks")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	return nil
}
