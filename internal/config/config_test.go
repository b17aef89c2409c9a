package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_WithValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "trellis.yaml")

	configContent := `
planning_root: "./custom-planning"
host: "0.0.0.0"
port: 9000
log_level: "debug"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadSettings(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "./custom-planning", cfg.PlanningRoot)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultSchemaVersion, cfg.SchemaVersion)
}

func TestLoadSettings_NoFilePresent_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadSettings(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, DefaultPlanningRoot, cfg.PlanningRoot)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.False(t, cfg.DebugMode)
	assert.True(t, cfg.AutoCreateDirs)
}

func TestLoadSettingsWithFile_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "my-config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("port: 1234\n"), 0644))

	cfg, err := LoadSettingsWithFile(tmpDir, configPath)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)
}

func TestLoadSettingsWithFile_GlobalFallback(t *testing.T) {
	globalDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", globalDir)
	globalPath := filepath.Join(globalDir, "trellis", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0755))
	require.NoError(t, os.WriteFile(globalPath, []byte("log_level: \"warn\"\n"), 0644))

	cfg, err := LoadSettingsWithFile(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadSettingsWithFile_NoConfigAnywhere_Defaults(t *testing.T) {
	globalDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", globalDir)

	cfg, err := LoadSettingsWithFile(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Host)
}

func TestLoadSettings_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "trellis.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("port: 9000\n"), 0644))

	t.Setenv("MCP_PORT", "7777")

	cfg, err := LoadSettings(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Port)
}
