// Package config loads orchestrator settings from defaults, an optional
// config file, and PLOTFORGE_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime settings for the build orchestrator.
type Config struct {
	// RecipesDir is the root holding one directory per recipe.
	RecipesDir string `mapstructure:"recipes_dir"`
	// BuildDir holds the cache store and execution staging directories.
	BuildDir string `mapstructure:"build_dir"`

	// Concurrency caps parallel node executions; zero means one per CPU.
	Concurrency int `mapstructure:"concurrency"`

	SandboxImage   string        `mapstructure:"sandbox_image"`
	DefaultMemory  string        `mapstructure:"default_memory"`
	DefaultCPUs    float64       `mapstructure:"default_cpus"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// CacheDir is where committed bundles live.
func (c Config) CacheDir() string { return filepath.Join(c.BuildDir, "cache") }

// StagingDir is where in-flight execution output is staged.
func (c Config) StagingDir() string { return filepath.Join(c.BuildDir, "staging") }

// Load reads configuration. When file is non-empty it must exist; otherwise
// a plotforge.yaml in the working directory is used if present.
func Load(file string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLOTFORGE")
	v.AutomaticEnv()

	v.SetDefault("recipes_dir", "recipes")
	v.SetDefault("build_dir", "build")
	v.SetDefault("concurrency", 0)
	v.SetDefault("sandbox_image", "plotforge-sandbox:latest")
	v.SetDefault("default_memory", "1g")
	v.SetDefault("default_cpus", 0)
	v.SetDefault("default_timeout", 15*time.Minute)
	v.SetDefault("fetch_timeout", 5*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	} else {
		v.SetConfigName("plotforge")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("load config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
