package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "TASKFLOW"
	defaultHTTPPort        = "4000"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 60
	defaultAllowedOrigins  = "http://localhost:8080,http://localhost:5173"
)

// legacyEnv maps configuration keys onto the variable names used by the
// original deployment so existing environments keep working.
var legacyEnv = map[string]string{
	"http.port":         "PORT",
	"store.url":         "DATABASE_URL",
	"store.service_key": "SUPABASE_SERVICE_ROLE_KEY",
	"identity.url":      "SUPABASE_URL",
	"cors.frontend_url": "FRONTEND_URL",
}

// AppConfig captures runtime configuration for the API server and admin tools.
type AppConfig struct {
	HTTPAddress    string
	StoreURL       string
	ServiceKey     string
	IdentityURL    string
	SigningSecret  string
	TokenTTL       time.Duration
	AllowedOrigins []string
	LogLevel       string
}

// UsesHostedIdentity reports whether identities live behind the hosted admin API
// rather than in the local auth_users table.
func (c AppConfig) UsesHostedIdentity() bool {
	return c.IdentityURL != ""
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

	for key, legacyName := range legacyEnv {
		_ = configViper.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacyName)
	}

	configViper.SetDefault("http.port", defaultHTTPPort)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   httpAddress(configViper.GetString("http.port")),
		StoreURL:      strings.TrimSpace(configViper.GetString("store.url")),
		ServiceKey:    strings.TrimSpace(configViper.GetString("store.service_key")),
		IdentityURL:   strings.TrimRight(strings.TrimSpace(configViper.GetString("identity.url")), "/"),
		SigningSecret: strings.TrimSpace(configViper.GetString("auth.signing_secret")),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LogLevel:      configViper.GetString("log.level"),
	}
	if cfg.SigningSecret == "" {
		cfg.SigningSecret = cfg.ServiceKey
	}

	cfg.AllowedOrigins = splitOrigins(configViper.GetString("cors.allowed_origins"))
	if frontend := strings.TrimSpace(configViper.GetString("cors.frontend_url")); frontend != "" {
		cfg.AllowedOrigins = appendOrigin(cfg.AllowedOrigins, frontend)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("store.url is required")
	}
	if c.ServiceKey == "" {
		return fmt.Errorf("store.service_key is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

func httpAddress(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = defaultHTTPPort
	}
	if strings.Contains(port, ":") {
		return port
	}
	return "0.0.0.0:" + port
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		origins = appendOrigin(origins, part)
	}
	return origins
}

func appendOrigin(origins []string, origin string) []string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return origins
	}
	for _, existing := range origins {
		if existing == origin {
			return origins
		}
	}
	return append(origins, origin)
}
