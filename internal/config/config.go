package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "AGORA"
	defaultHTTPAddress          = "0.0.0.0:8000"
	defaultAllowedHosts         = "localhost,127.0.0.1"
	defaultAllowedOrigins       = "http://localhost:3000"
	defaultDatabaseDriver       = "sqlite"
	defaultDatabaseDSN          = "agora.db"
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
	defaultAdminAPIKey          = "admin-secret"
	defaultIdentityPerMinute    = 60
	defaultCreateNotesPerMinute = 10
	defaultListNotesPerMinute   = 100
)

var supportedDrivers = map[string]struct{}{
	"sqlite":   {},
	"postgres": {},
	"mysql":    {},
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	AllowedHosts         []string
	AllowedOrigins       []string
	DatabaseDriver       string
	DatabaseDSN          string
	LogLevel             string
	LogFormat            string
	AdminAPIKey          string
	APIKeys              string
	IdentityPerMinute    int
	CreateNotesPerMinute int
	ListNotesPerMinute   int
	RedisAddress         string
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
	configViper.SetDefault("http.allowed_hosts", defaultAllowedHosts)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.admin_api_key", defaultAdminAPIKey)
	configViper.SetDefault("auth.api_keys", "")
	configViper.SetDefault("ratelimit.identity_per_minute", defaultIdentityPerMinute)
	configViper.SetDefault("ratelimit.create_notes_per_minute", defaultCreateNotesPerMinute)
	configViper.SetDefault("ratelimit.list_notes_per_minute", defaultListNotesPerMinute)
	configViper.SetDefault("ratelimit.redis_address", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedHosts:         stringList(configViper, "http.allowed_hosts"),
		AllowedOrigins:       stringList(configViper, "http.allowed_origins"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		AdminAPIKey:          configViper.GetString("auth.admin_api_key"),
		APIKeys:              configViper.GetString("auth.api_keys"),
		IdentityPerMinute:    configViper.GetInt("ratelimit.identity_per_minute"),
		CreateNotesPerMinute: configViper.GetInt("ratelimit.create_notes_per_minute"),
		ListNotesPerMinute:   configViper.GetInt("ratelimit.list_notes_per_minute"),
		RedisAddress:         strings.TrimSpace(configViper.GetString("ratelimit.redis_address")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if _, ok := supportedDrivers[c.DatabaseDriver]; !ok {
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log.format must be json or console")
	}
	if strings.TrimSpace(c.AdminAPIKey) == "" {
		return fmt.Errorf("auth.admin_api_key is required")
	}
	limits := map[string]int{
		"ratelimit.identity_per_minute":     c.IdentityPerMinute,
		"ratelimit.create_notes_per_minute": c.CreateNotesPerMinute,
		"ratelimit.list_notes_per_minute":   c.ListNotesPerMinute,
	}
	for key, limit := range limits {
		if limit <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			continue
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("http.allowed_origins contains malformed origin %q", origin)
		}
	}
	return nil
}

// stringList reads a comma separated value or a native list.
func stringList(configViper *viper.Viper, key string) []string {
	var raw []string
	switch value := configViper.Get(key).(type) {
	case []string:
		raw = value
	case []any:
		for _, item := range value {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = strings.Split(configViper.GetString(key), ",")
	}

	values := make([]string, 0, len(raw))
	for _, item := range raw {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
