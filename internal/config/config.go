package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/logging"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "INKWELL"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "inkwell.db"
	defaultLogLevel            = "info"
	defaultCookieName          = "app_session_id"
	defaultIssuer              = "inkwell-auth"
	defaultCountDebounce       = 500 * time.Millisecond
	defaultSnapshotThreshold   = 100
	defaultContentSaveInterval = 10
	defaultOutboundBuffer      = 256
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SigningSecret       string
	Issuer              string
	CookieName          string
	AllowedOrigins      []string
	CountDebounce       time.Duration
	SnapshotThreshold   int
	ContentSaveInterval int
	OutboundBuffer      int
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
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("collab.count_debounce", defaultCountDebounce)
	configViper.SetDefault("collab.snapshot_threshold", defaultSnapshotThreshold)
	configViper.SetDefault("collab.content_save_interval", defaultContentSaveInterval)
	configViper.SetDefault("collab.outbound_buffer", defaultOutboundBuffer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		Issuer:              configViper.GetString("auth.issuer"),
		CookieName:          configViper.GetString("auth.cookie_name"),
		AllowedOrigins:      splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		CountDebounce:       configViper.GetDuration("collab.count_debounce"),
		SnapshotThreshold:   configViper.GetInt("collab.snapshot_threshold"),
		ContentSaveInterval: configViper.GetInt("collab.content_save_interval"),
		OutboundBuffer:      configViper.GetInt("collab.outbound_buffer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.CountDebounce <= 0 {
		return fmt.Errorf("collab.count_debounce must be positive")
	}
	if c.SnapshotThreshold <= 0 {
		return fmt.Errorf("collab.snapshot_threshold must be positive")
	}
	if c.ContentSaveInterval <= 0 {
		return fmt.Errorf("collab.content_save_interval must be positive")
	}
	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("collab.outbound_buffer must be positive")
	}
	return nil
}
