package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "unit-test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddress = %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "scribe.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.GracePeriod != 10*time.Second {
		t.Fatalf("GracePeriod = %v", cfg.GracePeriod)
	}
	if cfg.PersistInterval != 60*time.Second {
		t.Fatalf("PersistInterval = %v", cfg.PersistInterval)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	if _, err := Load(NewViper()); err == nil {
		t.Fatal("expected an error without a signing secret")
	}
}

func TestLoadRejectsInvalidDurations(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "unit-test-secret")
	configViper.Set("realtime.grace_period_s", 0)
	if _, err := Load(configViper); err == nil {
		t.Fatal("expected an error for a non-positive grace period")
	}

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "unit-test-secret")
	configViper.Set("realtime.persist_interval_s", -5)
	if _, err := Load(configViper); err == nil {
		t.Fatal("expected an error for a negative persist interval")
	}
}

func TestLoadAllowsDisabledPersistence(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "unit-test-secret")
	configViper.Set("realtime.persist_interval_s", 0)

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PersistInterval != 0 {
		t.Fatalf("PersistInterval = %v, want 0", cfg.PersistInterval)
	}
}
