package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestVersionCmdPrintsConfiguredNameAndVersion(t *testing.T) {
	oldConfigPath := configPath
	defer func() { configPath = oldConfigPath }()
	configPath = filepath.Join(t.TempDir(), "missing.yaml")

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("versionCmd.RunE: %v", err)
	}
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	if got := buf.String(); got != "riptide 0.1.0\n" {
		t.Fatalf("got %q, want %q", got, "riptide 0.1.0\n")
	}
}

func TestVersionCmdReflectsCustomConfigFile(t *testing.T) {
	oldConfigPath := configPath
	defer func() { configPath = oldConfigPath }()

	dir := t.TempDir()
	path := filepath.Join(dir, "riptide.yaml")
	data, err := yaml.Marshal(map[string]string{"name": "riptide-staging", "version": "9.9.9"})
	if err != nil {
		t.Fatalf("marshal fixture config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}
	configPath = path

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("versionCmd.RunE: %v", err)
	}
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	if got, want := buf.String(), "riptide-staging 9.9.9\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRootCmdRegistersAllSubcommands(t *testing.T) {
	want := map[string]bool{
		"serve":   false,
		"crawl":   false,
		"health":  false,
		"version": false,
		"status":  false,
	}
	for _, c := range rootCmd.Commands() {
		name := c.Name()
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("rootCmd is missing subcommand %q", name)
		}
	}
}

func TestConfigFlagDefaultsToRiptideYAML(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	if flag == nil {
		t.Fatal("expected a registered --config flag")
	}
	if flag.DefValue != "riptide.yaml" {
		t.Fatalf("got default %q, want %q", flag.DefValue, "riptide.yaml")
	}
}
