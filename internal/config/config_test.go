package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFeeBps(t *testing.T) {
	tests := []struct {
		fee     string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"0.025", 250, false},
		{"0.0001", 1, false},
		{"0.9999", 9999, false},
		{"0.00001", 0, true},
		{"1", 0, true},
		{"-0.1", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.fee, func(t *testing.T) {
			got, err := LedgerConfig{ProtocolFee: tt.fee}.FeeBps()
			if (err != nil) != tt.wantErr {
				t.Fatalf("FeeBps(%q) err = %v, wantErr %v", tt.fee, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("FeeBps(%q) = %d, want %d", tt.fee, got, tt.want)
			}
		})
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Store.Backend = "mongo"
	cfg.Ledger.MinBet = 0
	cfg.Ledger.ProtocolFee = "2"
	cfg.Payout.Transferrer = "voucher"
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "not a cron"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "bogus"`,
		`unknown backend "mongo"`,
		"min_bet",
		"protocol_fee",
		"voucher transferrer requires redis.enabled",
		"operator_key or encrypted_key_path",
		"invalid cron",
		"rate_limit requires redis.enabled",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestWorkerModeNeedsSharedStore(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "worker"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "worker mode") {
		t.Fatalf("err = %v", err)
	}
	cfg.Store.Backend = "sqlite"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sqlite worker should validate: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolbet.toml")
	body := `
mode = "server"

[store]
backend = "sqlite"

[ledger]
min_bet = 500
protocol_fee = "0.01"
duration_unit = "1m"

[server]
port = 9100
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POOLBET_SERVER_PORT", "9200")
	t.Setenv("POOLBET_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("POOLBET_PAYOUT_RECONCILE_INTERVAL", "10s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "server" || cfg.Store.Backend != "sqlite" {
		t.Fatalf("mode/backend = %q/%q", cfg.Mode, cfg.Store.Backend)
	}
	if cfg.Ledger.MinBet != 500 || cfg.Ledger.DurationUnit.Duration != time.Minute {
		t.Fatalf("ledger = %+v", cfg.Ledger)
	}
	if bps, _ := cfg.Ledger.FeeBps(); bps != 100 {
		t.Fatalf("fee bps = %d", bps)
	}
	if cfg.Server.Port != 9200 {
		t.Fatalf("env override not applied: port = %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Payout.ReconcileInterval.Duration != 10*time.Second {
		t.Fatalf("reconcile interval = %v", cfg.Payout.ReconcileInterval)
	}
	// Untouched sections keep their defaults.
	if cfg.Ledger.MaxOptions != 32 {
		t.Fatalf("max options = %d", cfg.Ledger.MaxOptions)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Payout.OperatorKey = "0xabc"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.Payout.OperatorKey != redacted || out.Server.APIKey != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.S3.SecretKey != "" {
		t.Fatal("empty secret should stay empty")
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("original mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Fatal("slice shared with original")
	}
}
