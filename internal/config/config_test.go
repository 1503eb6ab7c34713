package config

import (
	"testing"
	"time"
)

func TestLoadRequiresStoreCredentials(t *testing.T) {
	t.Setenv("TASKFLOW_STORE_URL", "")
	t.Setenv("TASKFLOW_STORE_SERVICE_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "")

	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected missing store url to fail")
	}

	t.Setenv("TASKFLOW_STORE_URL", "taskflow.db")
	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected missing service key to fail")
	}
}

func TestLoadAppliesDefaultsAndLegacyNames(t *testing.T) {
	t.Setenv("DATABASE_URL", "taskflow.db")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-key")
	t.Setenv("FRONTEND_URL", "https://tasks.example.com/")
	t.Setenv("PORT", "")
	t.Setenv("TASKFLOW_HTTP_PORT", "")
	t.Setenv("TASKFLOW_STORE_URL", "")
	t.Setenv("TASKFLOW_STORE_SERVICE_KEY", "")
	t.Setenv("TASKFLOW_AUTH_SIGNING_SECRET", "")
	t.Setenv("TASKFLOW_IDENTITY_URL", "")
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("TASKFLOW_CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:4000" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.StoreURL != "taskflow.db" || cfg.ServiceKey != "service-key" {
		t.Fatalf("legacy store variables not applied: %+v", cfg)
	}
	if cfg.SigningSecret != "service-key" {
		t.Fatalf("expected signing secret to fall back to service key, got %q", cfg.SigningSecret)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	expected := []string{"http://localhost:8080", "http://localhost:5173", "https://tasks.example.com"}
	if len(cfg.AllowedOrigins) != len(expected) {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	for index, origin := range expected {
		if cfg.AllowedOrigins[index] != origin {
			t.Fatalf("origin %d: expected %q, got %q", index, origin, cfg.AllowedOrigins[index])
		}
	}
	if cfg.UsesHostedIdentity() {
		t.Fatalf("expected local identity when identity url is unset")
	}
}

func TestLoadPrefersPrefixedVariables(t *testing.T) {
	t.Setenv("TASKFLOW_STORE_URL", "primary.db")
	t.Setenv("DATABASE_URL", "legacy.db")
	t.Setenv("TASKFLOW_STORE_SERVICE_KEY", "key")
	t.Setenv("TASKFLOW_HTTP_PORT", "9090")
	t.Setenv("TASKFLOW_IDENTITY_URL", "https://project.example.co/")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.StoreURL != "primary.db" {
		t.Fatalf("expected prefixed store url, got %q", cfg.StoreURL)
	}
	if cfg.HTTPAddress != "0.0.0.0:9090" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if !cfg.UsesHostedIdentity() || cfg.IdentityURL != "https://project.example.co" {
		t.Fatalf("unexpected identity url %q", cfg.IdentityURL)
	}
}
