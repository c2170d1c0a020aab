package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "SCRIBE"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "scribe.db"
	defaultLogLevel           = "info"
	defaultGracePeriodSeconds = 10
	defaultPersistIntervalS   = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	SigningSecret   string
	DatabasePath    string
	LogLevel        string
	GracePeriod     time.Duration
	PersistInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("realtime.grace_period_s", defaultGracePeriodSeconds)
	configViper.SetDefault("realtime.persist_interval_s", defaultPersistIntervalS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		GracePeriod:     time.Duration(configViper.GetInt64("realtime.grace_period_s")) * time.Second,
		PersistInterval: time.Duration(configViper.GetInt64("realtime.persist_interval_s")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("realtime.grace_period_s must be positive")
	}
	if c.PersistInterval < 0 {
		return fmt.Errorf("realtime.persist_interval_s must not be negative")
	}
	return nil
}
