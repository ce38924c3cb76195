package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"mcpindex/internal/repository"
	"mcpindex/pkg/fileops"

	"github.com/adrg/xdg"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestConfigPath_EnvOverride(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "custom.yaml")
	t.Setenv("MCPINDEX_CONFIG", custom)

	got, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath failed: %v", err)
	}
	if got != custom {
		t.Errorf("Expected %s, got %s", custom, got)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	original := DefaultConfig()
	original.InstructionsDir = filepath.Join(tempDir, "instructions")
	original.DataDir = filepath.Join(tempDir, "data")
	original.Mutation = true
	original.Dashboard.Enabled = true
	original.Dashboard.Port = 9999
	original.Dashboard.PushInterval = 2 * time.Second
	original.Sources = []repository.SourceEntry{
		{Name: "team", Type: repository.SourceTypeLocal, Path: tempDir},
	}

	if err := original.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %s", err)
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %s", err)
	}

	if loaded.InstructionsDir != original.InstructionsDir {
		t.Errorf("InstructionsDir mismatch: expected %s, got %s", original.InstructionsDir, loaded.InstructionsDir)
	}
	if !loaded.Mutation || !loaded.Dashboard.Enabled {
		t.Error("Expected mutation and dashboard flags to round-trip")
	}
	if loaded.Dashboard.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", loaded.Dashboard.Port)
	}
	if loaded.Dashboard.PushInterval != 2*time.Second {
		t.Errorf("Expected push interval 2s, got %s", loaded.Dashboard.PushInterval)
	}
	if len(loaded.Sources) != 1 || loaded.Sources[0].Name != "team" {
		t.Errorf("Expected one source named team, got %+v", loaded.Sources)
	}
	if loaded.InitTime == 0 {
		t.Error("InitTime should be set on save")
	}
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("mutation: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if !cfg.Mutation {
		t.Error("Expected mutation from file")
	}
	if cfg.Dashboard.Port != DefaultDashboardPort {
		t.Errorf("Expected default port, got %d", cfg.Dashboard.Port)
	}
	if cfg.UsageFlushDelay != DefaultUsageFlushDelay {
		t.Errorf("Expected default flush delay, got %s", cfg.UsageFlushDelay)
	}
	if !cfg.Watch {
		t.Error("Expected watch to default on")
	}
}

func TestLoad_NoFileUsesDefaultsAndEnv(t *testing.T) {
	tempDir := t.TempDir()
	t.Chdir(tempDir)
	t.Setenv("MCPINDEX_CONFIG", filepath.Join(tempDir, "absent.yaml"))
	t.Setenv("MCPINDEX_INSTRUCTIONS_DIR", filepath.Join(tempDir, "inst"))
	t.Setenv("MCPINDEX_MUTATION", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.InstructionsDir != filepath.Join(tempDir, "inst") {
		t.Errorf("Expected env instructions dir, got %s", cfg.InstructionsDir)
	}
	if !cfg.Mutation {
		t.Error("Expected mutation enabled from env")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	tempDir := t.TempDir()
	t.Chdir(tempDir)
	t.Setenv("MCPINDEX_CONFIG", filepath.Join(tempDir, "absent.yaml"))
	t.Setenv("MCPINDEX_DASHBOARD_PORT", "")
	os.Unsetenv("MCPINDEX_DASHBOARD_PORT")

	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("MCPINDEX_DASHBOARD_PORT=9191\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MCPINDEX_DASHBOARD_PORT") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dashboard.Port != 9191 {
		t.Errorf("Expected port from .env, got %d", cfg.Dashboard.Port)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "booleans",
			env:  map[string]string{"MCPINDEX_MUTATION": "1", "MCPINDEX_DASHBOARD": "true", "MCPINDEX_WATCH": "off"},
			check: func(t *testing.T, c *Config) {
				if !c.Mutation || !c.Dashboard.Enabled || c.Watch {
					t.Errorf("unexpected flags: mutation=%v dashboard=%v watch=%v", c.Mutation, c.Dashboard.Enabled, c.Watch)
				}
			},
		},
		{
			name: "flush delay",
			env:  map[string]string{"MCPINDEX_USAGE_FLUSH_MS": "250"},
			check: func(t *testing.T, c *Config) {
				if c.UsageFlushDelay != 250*time.Millisecond {
					t.Errorf("expected 250ms, got %s", c.UsageFlushDelay)
				}
			},
		},
		{
			name:    "bad port",
			env:     map[string]string{"MCPINDEX_DASHBOARD_PORT": "http"},
			wantErr: true,
		},
		{
			name:    "bad flush",
			env:     map[string]string{"MCPINDEX_USAGE_FLUSH_MS": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.ApplyEnv(envMap(tt.env))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyEnv error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, &cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tempDir := t.TempDir()
	valid := func() Config {
		c := DefaultConfig()
		c.InstructionsDir = filepath.Join(tempDir, "instructions")
		c.DataDir = filepath.Join(tempDir, "data")
		return c
	}

	c := valid()
	if err := c.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	// first run: nothing created yet
	c = valid()
	c.DataDir = filepath.Join(tempDir, "fresh", "mcpindex")
	c.InstructionsDir = filepath.Join(c.DataDir, "instructions")
	if err := c.Validate(); err != nil {
		t.Errorf("Expected not-yet-created dirs to be valid, got %v", err)
	}

	c = valid()
	c.Dashboard.Port = 70000
	if err := c.Validate(); err == nil {
		t.Error("Expected port validation error")
	}

	c = valid()
	c.InstructionsDir = "relative"
	if err := c.Validate(); err == nil {
		t.Error("Expected relative instructions dir to fail")
	}

	c = valid()
	c.UsageFlushDelay = -time.Second
	if err := c.Validate(); err == nil {
		t.Error("Expected negative flush delay to fail")
	}

	c = valid()
	c.Sources = []repository.SourceEntry{{Name: "", Type: repository.SourceTypeLocal, Path: tempDir}}
	if err := c.Validate(); err == nil {
		t.Error("Expected unnamed source to fail")
	}
}

func TestEnsureDirs(t *testing.T) {
	tempDir := t.TempDir()
	c := DefaultConfig()
	c.InstructionsDir = filepath.Join(tempDir, "a", "instructions")
	c.DataDir = filepath.Join(tempDir, "b")

	if err := c.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	for _, d := range []string{c.InstructionsDir, c.DataDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s to exist", d)
		}
	}
	if filepath.Dir(c.UsageSnapshotPath()) != c.DataDir {
		t.Error("Usage snapshot should live in the data dir")
	}
}

func TestConfigFilePermissions(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	config := DefaultConfig()
	if err := config.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %s", err)
	}

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Failed to stat config file: %s", err)
	}
	if fileInfo.Mode()&0o077 != 0 {
		t.Errorf("Config file should not be readable by group/others, got mode %o", fileInfo.Mode())
	}
}

func TestConfigErrorHandling(t *testing.T) {
	t.Run("load non-existent file", func(t *testing.T) {
		if _, err := LoadFrom("/non/existent/file.yaml"); err == nil {
			t.Error("Should error when loading non-existent file")
		}
	})

	t.Run("load invalid YAML", func(t *testing.T) {
		invalidFile := filepath.Join(t.TempDir(), "invalid.yaml")
		os.WriteFile(invalidFile, []byte("invalid: yaml: content: ["), 0o644)

		if _, err := LoadFrom(invalidFile); err == nil {
			t.Error("Should error when loading invalid YAML")
		}
	})
}

func TestDefaultConfig_ValidForRootUser(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux home layout")
	}
	t.Cleanup(xdg.Reload)
	t.Setenv("HOME", "/root")
	t.Setenv("XDG_DATA_HOME", "")
	xdg.Reload()

	cfg := DefaultConfig()
	if cfg.DataDir != "/root/.local/share/mcpindex" {
		t.Fatalf("DataDir = %s", cfg.DataDir)
	}
	for _, dir := range []string{cfg.InstructionsDir, cfg.DataDir} {
		if fileops.IsReservedDirectory(dir) {
			t.Errorf("%s reported as reserved", dir)
		}
	}

	if os.Geteuid() != 0 {
		t.Skip("validating paths under /root needs root")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}
