package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hostup/hostup/common"
)

func TestDirEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom")
	t.Setenv(common.ConfigDirEnv, dir)

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %q, got %q", dir, got)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected dir created: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv(common.RPCSecretEnv, "")
	t.Setenv(common.SocketPathEnv, "")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != common.DefaultTCPPort {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
	if cfg.TempDir == "" {
		t.Fatal("expected non-empty temp dir default")
	}
	if cfg.Secret != "" {
		t.Fatalf("expected empty secret, got %q", cfg.Secret)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	t.Setenv(common.RPCSecretEnv, "")
	t.Setenv(common.SocketPathEnv, "")

	dir := t.TempDir()
	content := "port: 5000\nsecret: abc\nglobal_limit: 4\nper_host_limit: 2\nproxy: socks5://127.0.0.1:1080\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5000 || cfg.Secret != "abc" || cfg.GlobalLimit != 4 || cfg.PerHostLimit != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Proxy != "socks5://127.0.0.1:1080" {
		t.Fatalf("unexpected proxy: %q", cfg.Proxy)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: [not an int"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("secret: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(common.RPCSecretEnv, "from-env")
	t.Setenv(common.SocketPathEnv, "/tmp/env.sock")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Secret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Secret)
	}
	if cfg.SocketPath != "/tmp/env.sock" {
		t.Fatalf("expected env socket path, got %q", cfg.SocketPath)
	}

	t.Run("bad port falls back", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: 99999\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Port != common.DefaultTCPPort {
			t.Fatalf("expected default port for out-of-range value, got %d", cfg.Port)
		}
	})
}
