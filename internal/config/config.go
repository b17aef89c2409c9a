// Package config loads Trellis server settings: the planning root, the
// schema version new objects are stamped with, the transport bind
// address, log level, and the cache size, from trellis.yaml, a global
// XDG config file, and MCP_-prefixed environment overrides, in that
// precedence order (env wins over file, file wins over defaults).
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Settings holds the full set of Trellis server settings.
type Settings struct {
	PlanningRoot   string `mapstructure:"planning_root"`
	SchemaVersion  string `mapstructure:"schema_version"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	LogLevel       string `mapstructure:"log_level"`
	DebugMode      bool   `mapstructure:"debug_mode"`
	AutoCreateDirs bool   `mapstructure:"auto_create_dirs"`
	CacheMaxItems  int    `mapstructure:"cache_max_items"`
}

// LoadSettingsWithFile loads settings from a specific file if provided,
// otherwise falls back to LoadSettings for the working directory, then
// the global XDG config.
func LoadSettingsWithFile(workDir, configFile string) (*Settings, error) {
	if configFile != "" {
		return loadFromPath(configFile)
	}

	localPath := filepath.Join(workDir, "trellis.yaml")
	if _, err := os.Stat(localPath); err == nil {
		return LoadSettings(workDir)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	globalPath, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}
	return loadFromPath(globalPath)
}

// LoadSettings loads trellis.yaml from dir, applying defaults and
// MCP_-prefixed environment overrides for anything the file omits.
func LoadSettings(dir string) (*Settings, error) {
	v := newViper()
	v.SetConfigName("trellis")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return unmarshal(v)
}

// loadFromPath loads settings from an explicit file path; a missing file
// is not an error, it just yields defaults plus environment overrides.
func loadFromPath(path string) (*Settings, error) {
	v := newViper()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return unmarshal(v)
		}
		return nil, err
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MCP")
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("planning_root", DefaultPlanningRoot)
	v.SetDefault("schema_version", DefaultSchemaVersion)
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("debug_mode", DefaultDebugMode)
	v.SetDefault("auto_create_dirs", DefaultAutoCreateDirs)
	v.SetDefault("cache_max_items", DefaultCacheMaxEntries)
}
