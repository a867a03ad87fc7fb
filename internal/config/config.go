// Package config resolves the daemon's config directory and loads its
// optional YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hostup/hostup/common"
)

// Config is the daemon configuration. Every field has a workable
// default; the config file only overrides what it names.
type Config struct {
	// Port is the TCP fallback port; the HTTP bridge uses Port+1.
	Port int `yaml:"port"`
	// Secret enables the HTTP RPC bridge when non-empty. The
	// HOSTUP_RPC_SECRET environment variable takes precedence.
	Secret string `yaml:"secret"`
	// SocketPath overrides the unix socket location.
	SocketPath string `yaml:"socket_path"`

	// GlobalLimit caps concurrent uploads across all hosts. Zero means
	// unlimited.
	GlobalLimit int `yaml:"global_limit"`
	// PerHostLimit caps concurrent uploads per host. Zero means
	// unlimited.
	PerHostLimit int `yaml:"per_host_limit"`

	// TempDir holds in-progress archives. Defaults to a hostup
	// subdirectory of the system temp dir.
	TempDir string `yaml:"temp_dir"`
	// Proxy is an optional socks5:// egress for host connections.
	Proxy string `yaml:"proxy"`
	// Passphrase derives the credential-store key instead of the OS
	// keyring when set.
	Passphrase string `yaml:"passphrase"`
}

const fileName = "config.yaml"

// Dir returns the config directory, creating it if needed. The
// HOSTUP_CONFIG_DIR environment variable overrides the default
// user-config location.
func Dir() (string, error) {
	dir := os.Getenv(common.ConfigDirEnv)
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolving config dir: %w", err)
		}
		dir = filepath.Join(base, "hostup")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	return dir, nil
}

// Load reads the config file from dir. A missing file yields the
// defaults; a malformed file is an error.
func Load(dir string) (*Config, error) {
	cfg := &Config{
		Port:    common.DefaultTCPPort,
		TempDir: filepath.Join(os.TempDir(), "hostup"),
	}
	raw, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = common.DefaultTCPPort
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "hostup")
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if secret := os.Getenv(common.RPCSecretEnv); secret != "" {
		c.Secret = secret
	}
	if path := os.Getenv(common.SocketPathEnv); path != "" {
		c.SocketPath = path
	}
}

// HostsDir is where built-in host descriptors live.
func HostsDir(configDir string) string {
	return filepath.Join(configDir, "hosts")
}

// CustomHostsDir is where user-supplied descriptor overrides live.
func CustomHostsDir(configDir string) string {
	return filepath.Join(configDir, "hosts.d")
}
