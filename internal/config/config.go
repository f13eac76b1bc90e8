package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "DESKADMIN"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultProxyAddress      = "0.0.0.0:3001"
	defaultDatabasePath      = "deskadmin.db"
	defaultLogLevel          = "info"
	defaultIssuer            = "deskadmin"
	defaultAudience          = "deskadmin-api"
	defaultTokenTTLMinutes   = 60
	defaultBackendTimeout    = 30
	defaultViewportWidth     = 1440
	defaultViewportHeight    = 900
	defaultSidebarWidth      = 250
	defaultChromeHeight      = 112
	defaultSchemaCacheSize   = 128
	defaultProxyLogCapacity  = 100
	defaultAllowedOriginsRaw = "*"
)

// AppConfig captures runtime configuration for the desk API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	Issuer          string
	Audience        string
	TokenTTL        time.Duration
	Backends        BackendsConfig
	Desk            DeskConfig
	SchemaCacheSize int
	AllowedOrigins  []string
}

// BackendsConfig names the two upstream services.
type BackendsConfig struct {
	MyustaBaseURL string
	ChatBaseURL   string
	Timeout       time.Duration
}

// DeskConfig holds the default geometry used for window layout.
type DeskConfig struct {
	ViewportWidth  int
	ViewportHeight int
	SidebarWidth   int
	ChromeHeight   int
}

// ProxyConfig captures runtime configuration for the development proxy.
type ProxyConfig struct {
	Address     string
	LogLevel    string
	LogCapacity int
	Backends    BackendsConfig
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
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("backends.myusta.base_url", "")
	configViper.SetDefault("backends.chat.base_url", "")
	configViper.SetDefault("backends.timeout_seconds", defaultBackendTimeout)
	configViper.SetDefault("desk.viewport_width", defaultViewportWidth)
	configViper.SetDefault("desk.viewport_height", defaultViewportHeight)
	configViper.SetDefault("desk.sidebar_width", defaultSidebarWidth)
	configViper.SetDefault("desk.chrome_height", defaultChromeHeight)
	configViper.SetDefault("catalog.schema_cache_size", defaultSchemaCacheSize)
	configViper.SetDefault("proxy.address", defaultProxyAddress)
	configViper.SetDefault("proxy.log_capacity", defaultProxyLogCapacity)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOriginsRaw)
}

// Load parses runtime configuration for the desk API from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		Audience:      configViper.GetString("auth.audience"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		Backends:      loadBackends(configViper),
		Desk: DeskConfig{
			ViewportWidth:  configViper.GetInt("desk.viewport_width"),
			ViewportHeight: configViper.GetInt("desk.viewport_height"),
			SidebarWidth:   configViper.GetInt("desk.sidebar_width"),
			ChromeHeight:   configViper.GetInt("desk.chrome_height"),
		},
		SchemaCacheSize: configViper.GetInt("catalog.schema_cache_size"),
		AllowedOrigins:  splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadProxy parses runtime configuration for the development proxy from viper.
func LoadProxy(configViper *viper.Viper) (ProxyConfig, error) {
	cfg := ProxyConfig{
		Address:     configViper.GetString("proxy.address"),
		LogLevel:    configViper.GetString("log.level"),
		LogCapacity: configViper.GetInt("proxy.log_capacity"),
		Backends:    loadBackends(configViper),
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return ProxyConfig{}, fmt.Errorf("proxy.address is required")
	}
	if cfg.LogCapacity <= 0 {
		return ProxyConfig{}, fmt.Errorf("proxy.log_capacity must be positive")
	}
	if err := cfg.Backends.validate(); err != nil {
		return ProxyConfig{}, err
	}
	return cfg, nil
}

func loadBackends(configViper *viper.Viper) BackendsConfig {
	return BackendsConfig{
		MyustaBaseURL: strings.TrimRight(configViper.GetString("backends.myusta.base_url"), "/"),
		ChatBaseURL:   strings.TrimRight(configViper.GetString("backends.chat.base_url"), "/"),
		Timeout:       time.Duration(configViper.GetInt("backends.timeout_seconds")) * time.Second,
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Issuer) == "" || strings.TrimSpace(c.Audience) == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.Desk.ViewportWidth <= c.Desk.SidebarWidth || c.Desk.ViewportHeight <= c.Desk.ChromeHeight {
		return fmt.Errorf("desk viewport must be larger than sidebar and chrome")
	}
	if c.SchemaCacheSize <= 0 {
		return fmt.Errorf("catalog.schema_cache_size must be positive")
	}
	return c.Backends.validate()
}

func (b BackendsConfig) validate() error {
	for key, raw := range map[string]string{
		"backends.myusta.base_url": b.MyustaBaseURL,
		"backends.chat.base_url":   b.ChatBaseURL,
	} {
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("%s is required", key)
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute url", key)
		}
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("backends.timeout_seconds must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
