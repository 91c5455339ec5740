// SPDX-License-Identifier: MPL-2.0

// Package config loads paccat's own optional configuration file. The
// file supplies defaults for knobs that are tedious to repeat on the
// command line (pager, color mode, cache directory); pacman's
// configuration is handled separately by pacmanconf.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "paccat"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
)

// ColorMode controls when diagnostic output is styled.
type ColorMode string

const (
	// ColorAuto styles output only when stdout is a terminal.
	ColorAuto ColorMode = "auto"
	// ColorAlways styles output unconditionally.
	ColorAlways ColorMode = "always"
	// ColorNever disables styled output.
	ColorNever ColorMode = "never"
)

// Config holds paccat's run defaults. Every field can be overridden by
// a command line flag; the zero-value semantics match running with no
// config file at all.
type Config struct {
	// Pager names the program used to page file contents. Empty means
	// discover one from $PAGER, less, then more.
	Pager string `mapstructure:"pager"`
	// Color selects when output is styled.
	Color ColorMode `mapstructure:"color"`
	// CacheDir overrides the download cache directory. Empty means use
	// the first usable CacheDir from pacman's configuration.
	CacheDir string `mapstructure:"cachedir"`
	// Verbose enables debug logging by default.
	Verbose bool `mapstructure:"verbose"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Color: ColorAuto,
	}
}

// ConfigDir returns the paccat configuration directory, honoring
// $XDG_CONFIG_HOME and falling back to ~/.config.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}

	return filepath.Join(configDir, AppName), nil
}

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific config file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
}

// Load reads the configuration file described by opts. A missing file
// is not an error; the defaults are returned instead. A file that is
// explicitly named but absent or malformed is.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType(ConfigFileExt)

	defaults := DefaultConfig()
	v.SetDefault("pager", defaults.Pager)
	v.SetDefault("color", defaults.Color)
	v.SetDefault("cachedir", defaults.CacheDir)
	v.SetDefault("verbose", defaults.Verbose)

	path := opts.ConfigFilePath
	if path == "" {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			var err error
			cfgDir, err = ConfigDir()
			if err != nil {
				return nil, err
			}
		}
		candidate := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(candidate) {
			path = candidate
		}
	} else if !fileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	switch cfg.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return nil, fmt.Errorf("invalid color mode %q (expected auto, always or never)", cfg.Color)
	}

	return &cfg, nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
