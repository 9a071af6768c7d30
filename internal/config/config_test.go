package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrustedRequester != "architect" {
		t.Fatalf("unexpected requester default: %q", cfg.TrustedRequester)
	}
	if cfg.StoreBackend != "dir" || cfg.ArtifactPrefix != "artifacts" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BUILDD_TRUSTED_REQUESTER", "planner")
	t.Setenv("BUILDD_STORE", "memory")
	t.Setenv("BUILDD_ALLOWED_PREFIXES", "out/,tmp/")
	t.Setenv("BUILDD_KILLSWITCH_RESET_CODE", "sesame")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrustedRequester != "planner" || cfg.StoreBackend != "memory" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.AllowedPrefixes) != 2 || cfg.AllowedPrefixes[1] != "tmp/" {
		t.Fatalf("unexpected prefixes: %v", cfg.AllowedPrefixes)
	}
	if cfg.KillSwitchResetCode != "sesame" {
		t.Fatalf("reset code not applied")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("BUILDD_STORE", "ftp")
	if _, err := Load(); err == nil {
		t.Fatalf("expected rejection of unknown backend")
	}
}
