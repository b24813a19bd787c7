package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/provision"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "camstage") {
		t.Errorf("GetConfigDir() = %v, should contain 'camstage'", configDir)
	}

	switch runtime.GOOS {
	case "darwin", "linux":
		if os.Getenv("XDG_CONFIG_HOME") == "" && !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDirXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if want := filepath.Join(dir, "camstage"); got != want {
		t.Errorf("GetConfigDir() = %v, want %v", got, want)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != CurrentVersion {
		t.Errorf("Default().Version = %v, want %v", cfg.Version, CurrentVersion)
	}
	if cfg.Provisioning.Admin.Username != "root" {
		t.Errorf("admin username = %v, want root", cfg.Provisioning.Admin.Username)
	}
	if len(cfg.Provisioning.Settings) != 2 {
		t.Errorf("default settings = %v, want 2 entries", cfg.Provisioning.Settings)
	}

	rc, err := cfg.ResponderConfig()
	if err != nil {
		t.Fatalf("ResponderConfig() error = %v", err)
	}
	if rc.PoolStart.String() != "192.168.0.100" || rc.LeaseDuration != time.Hour {
		t.Errorf("ResponderConfig() = %+v", rc)
	}

	mode, err := cfg.BatchMode()
	if err != nil || mode != batch.ModePositional {
		t.Errorf("BatchMode() = %v, %v", mode, err)
	}

	// No admin password configured.
	if _, err := cfg.ProvisionOptions(); err == nil {
		t.Error("ProvisionOptions() without admin password should fail")
	}
}

const sampleYAML = `version: 1
responder:
  interfaces: [eth1]
  server_ip: 10.10.0.1
  pool_start: 10.10.0.50
  pool_end: 10.10.0.60
  subnet_mask: 255.255.255.0
  dns: [10.10.0.1]
  lease_time: 30m
provisioning:
  firmware_class: legacy
  admin:
    username: installer
    password: from-file
  secondary_admin:
    username: backup
  network:
    subnet_mask: 255.255.0.0
    gateway: 10.10.0.254
  max_attempts: 5
  verify:
    attempts: 10
batch:
  mode: hardware-id
  workers: 4
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvSecondaryPassword, "from-env")
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	rc, err := cfg.ResponderConfig()
	if err != nil {
		t.Fatalf("ResponderConfig() error = %v", err)
	}
	if len(rc.Interfaces) != 1 || rc.Interfaces[0] != "eth1" {
		t.Errorf("Interfaces = %v", rc.Interfaces)
	}
	if rc.LeaseDuration != 30*time.Minute {
		t.Errorf("LeaseDuration = %v, want 30m", rc.LeaseDuration)
	}
	if rc.OfferHold != 30*time.Second {
		t.Errorf("OfferHold = %v, want default 30s", rc.OfferHold)
	}
	if len(rc.DNS) != 1 || rc.DNS[0].String() != "10.10.0.1" {
		t.Errorf("DNS = %v", rc.DNS)
	}

	opts, err := cfg.ProvisionOptions()
	if err != nil {
		t.Fatalf("ProvisionOptions() error = %v", err)
	}
	if opts.FirmwareClass != provision.FirmwareLegacy {
		t.Errorf("FirmwareClass = %v, want legacy", opts.FirmwareClass)
	}
	if opts.Admin.Username != "installer" || opts.Admin.Password != "from-file" {
		t.Errorf("Admin = %+v", opts.Admin)
	}
	if opts.SecondaryAdmin.Password != "from-env" {
		t.Errorf("SecondaryAdmin.Password = %q, want env override", opts.SecondaryAdmin.Password)
	}
	if opts.MaxAttempts != 5 || opts.Verify.Attempts != 10 {
		t.Errorf("MaxAttempts = %d, Verify.Attempts = %d", opts.MaxAttempts, opts.Verify.Attempts)
	}
	if opts.Verify.MaxDelay != 10*time.Second {
		t.Errorf("Verify.MaxDelay = %v, want default 10s", opts.Verify.MaxDelay)
	}
	if opts.Gateway.String() != "10.10.0.254" {
		t.Errorf("Gateway = %v", opts.Gateway)
	}
	if len(opts.Settings) != 2 {
		t.Errorf("Settings = %v, want defaults", opts.Settings)
	}

	if mode, _ := cfg.BatchMode(); mode != batch.ModeHardwareID {
		t.Errorf("BatchMode() = %v", mode)
	}
	if cfg.Batch.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Batch.Workers)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad version", "version: 2\n", "unsupported config version"},
		{"bad yaml", "version: [\n", "failed to parse"},
		{"bad duration", "version: 1\nresponder:\n  lease_time: soon\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing explicit path should fail")
	}
}

func TestLoadDefaultPathMissing(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on XDG_CONFIG_HOME")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvAdminPassword, "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Provisioning.Admin.Password != "secret" {
		t.Errorf("admin password = %q, want env value", cfg.Provisioning.Admin.Password)
	}
	if _, err := cfg.ProvisionOptions(); err != nil {
		t.Errorf("ProvisionOptions() error = %v", err)
	}
}

func TestConversionErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		convert func(*Config) error
		wantErr string
	}{
		{
			name:    "server ip",
			mutate:  func(c *Config) { c.Responder.ServerIP = "not-an-ip" },
			convert: func(c *Config) error { _, err := c.ResponderConfig(); return err },
			wantErr: "responder.server_ip",
		},
		{
			name:    "IPv6 pool",
			mutate:  func(c *Config) { c.Responder.PoolStart = "fe80::1" },
			convert: func(c *Config) error { _, err := c.ResponderConfig(); return err },
			wantErr: "responder.pool_start",
		},
		{
			name:    "firmware class",
			mutate:  func(c *Config) { c.Provisioning.FirmwareClass = "ancient" },
			convert: func(c *Config) error { _, err := c.ProvisionOptions(); return err },
			wantErr: "provisioning.firmware_class",
		},
		{
			name:    "non-contiguous mask",
			mutate:  func(c *Config) { c.Provisioning.Network.SubnetMask = "255.0.255.0" },
			convert: func(c *Config) error { _, err := c.ProvisionOptions(); return err },
			wantErr: "provisioning",
		},
		{
			name:    "mode",
			mutate:  func(c *Config) { c.Batch.Mode = "random" },
			convert: func(c *Config) error { _, err := c.BatchMode(); return err },
			wantErr: "batch.mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Provisioning.Admin.Password = "secret"
			tt.mutate(cfg)
			err := tt.convert(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Provisioning.Admin.Password = "secret"
	cfg.Provisioning.IntegrationUser = Credentials{Username: "vms", Password: "vms-pass"}
	cfg.Batch.Workers = 3
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Batch.Workers != 3 {
		t.Errorf("Workers = %d, want 3", loaded.Batch.Workers)
	}
	if loaded.Provisioning.IntegrationUser.Username != "vms" {
		t.Errorf("IntegrationUser = %+v", loaded.Provisioning.IntegrationUser)
	}
	if loaded.Responder.SweepInterval != 10*time.Second {
		t.Errorf("SweepInterval = %v, want 10s", loaded.Responder.SweepInterval)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Provisioning.Admin.Password = "secret"

	red := cfg.Redacted()
	if red.Provisioning.Admin.Password == "secret" {
		t.Error("Redacted() kept the admin password")
	}
	if red.Provisioning.SecondaryAdmin.Password != "" {
		t.Error("Redacted() invented a password")
	}
	if cfg.Provisioning.Admin.Password != "secret" {
		t.Error("Redacted() modified the original")
	}
}
