package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("backends.myusta.base_url", "http://localhost:5000/")
	configViper.Set("backends.chat.base_url", "http://localhost:5001")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 60*time.Minute {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.Backends.MyustaBaseURL != "http://localhost:5000" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", cfg.Backends.MyustaBaseURL)
	}
	if cfg.Desk.SidebarWidth != defaultSidebarWidth || cfg.Desk.ChromeHeight != defaultChromeHeight {
		t.Fatalf("unexpected desk defaults %+v", cfg.Desk)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected allowed origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()
	configViper.Set("backends.myusta.base_url", "http://localhost:5000")
	configViper.Set("backends.chat.base_url", "http://localhost:5001")

	_, err := Load(configViper)
	if err == nil || !strings.Contains(err.Error(), "auth.signing_secret") {
		t.Fatalf("expected signing secret error, got %v", err)
	}
}

func TestLoadRejectsRelativeBackendURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("backends.myusta.base_url", "localhost:5000")
	configViper.Set("backends.chat.base_url", "http://localhost:5001")

	_, err := Load(configViper)
	if err == nil || !strings.Contains(err.Error(), "backends.myusta.base_url") {
		t.Fatalf("expected backend url error, got %v", err)
	}
}

func TestLoadProxyRequiresPositiveCapacity(t *testing.T) {
	configViper := NewViper()
	configViper.Set("backends.myusta.base_url", "http://localhost:5000")
	configViper.Set("backends.chat.base_url", "http://localhost:5001")
	configViper.Set("proxy.log_capacity", 0)

	if _, err := LoadProxy(configViper); err == nil {
		t.Fatalf("expected capacity error")
	}

	configViper.Set("proxy.log_capacity", 25)
	cfg, err := LoadProxy(configViper)
	if err != nil {
		t.Fatalf("unexpected proxy load error: %v", err)
	}
	if cfg.LogCapacity != 25 {
		t.Fatalf("unexpected capacity %d", cfg.LogCapacity)
	}
}

func TestSplitListDropsBlanks(t *testing.T) {
	values := splitList(" https://a.example.com, ,https://b.example.com ")
	if len(values) != 2 || values[1] != "https://b.example.com" {
		t.Fatalf("unexpected values %v", values)
	}
}
