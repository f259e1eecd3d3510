package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nucleus/internal/config"
)

func TestReadUIMode(t *testing.T) {
	cases := []struct {
		input string
		want  uiMode
	}{
		{"", uiModeAuto},
		{"auto", uiModeAuto},
		{"ON", uiModeOn},
		{" off ", uiModeOff},
	}
	for _, tc := range cases {
		got, err := readUIMode(tc.input)
		if err != nil {
			t.Fatalf("readUIMode(%q) error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("readUIMode(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
	if _, err := readUIMode("sometimes"); err == nil {
		t.Fatalf("expected error for invalid ui mode")
	}
}

func TestInitWritesLoadableManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pager-demo")
	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	m, err := config.Load(filepath.Join(dir, config.ManifestName))
	if err != nil {
		t.Fatalf("starter manifest should load: %v", err)
	}
	if m.File.Workload.Name != "pager-demo" {
		t.Fatalf("workload name = %q, want pager-demo", m.File.Workload.Name)
	}
}

func TestInitRefusesExistingManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.ManifestName)
	if err := os.WriteFile(path, []byte("# taken\n"), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	err := runInit(initCmd, []string{dir})
	if err == nil || !strings.Contains(err.Error(), "already initialized") {
		t.Fatalf("expected already-initialized error, got %v", err)
	}
}

func TestLoadWorkloadConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.ManifestName)
	if err := os.WriteFile(path, []byte(config.Starter("spinner")), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cfg, err := loadWorkloadConfig([]string{path})
	if err != nil {
		t.Fatalf("loadWorkloadConfig: %v", err)
	}
	if cfg.Workload != "spinner" {
		t.Fatalf("cfg.Workload = %q, want spinner", cfg.Workload)
	}
	if cfg.Tasks < 1 || cfg.Steps < 1 || cfg.Locks < 1 {
		t.Fatalf("config not normalized: %+v", cfg)
	}
}
