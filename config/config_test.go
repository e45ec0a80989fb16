package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nxd.toml")
	body := `
request_pacer_max = 100
request_pacer_avg = 50

[weakblocks]
enable = false
keep_chain_tips = 2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fetch.RequestPacerMaxBurst != 100 || cfg.Fetch.RequestPacerAverage != 50 {
		t.Fatalf("request pacer overlay not applied: %+v", cfg.Fetch)
	}
	if cfg.Weakblock.Enable {
		t.Fatalf("expected weakblocks.enable=false to override the default")
	}
	if cfg.Weakblock.KeepChainTips != 2 {
		t.Fatalf("keep_chain_tips = %d, want 2", cfg.Weakblock.KeepChainTips)
	}
	// Untouched knob keeps its default.
	if cfg.Fetch.BlockPacerMaxBurst != Default().Fetch.BlockPacerMaxBurst {
		t.Fatalf("block pacer default should survive a partial overlay")
	}
}

func TestLoadRejectsZeroPacerBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nxd.toml")
	body := "request_pacer_max = 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for request_pacer_max = 0")
	}
}
