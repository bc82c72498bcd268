// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunabay/go-assetcache"
	"github.com/tunabay/go-infounit"
	"gopkg.in/yaml.v3"
)

// fileConfig represents the YAML configuration file. Command line flags
// override the values read from the file.
type fileConfig struct {
	PrimaryDir   string        `yaml:"primary_dir"`
	SecondaryDir string        `yaml:"secondary_dir"`
	WindowSize   int           `yaml:"window_size"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBlobSize  uint64        `yaml:"max_blob_size"` // in bytes
	Timeout      time.Duration `yaml:"timeout"`       // zero means no timeout
	LegacyKeys   bool          `yaml:"legacy_keys"`
	NoCoalesce   bool          `yaml:"no_coalesce"`
	LogLevel     string        `yaml:"log_level"`
	Listen       string        `yaml:"listen"`
}

// defaultConfig returns the configuration used when no file is given.
func defaultConfig() *fileConfig {
	return &fileConfig{
		PrimaryDir:   "assetfetch",
		SecondaryDir: "assetfetch",
		LogLevel:     "info",
		Listen:       ":8080",
	}
}

// loadConfig reads the YAML file at path on top of the defaults. An empty
// path returns the defaults.
func loadConfig(path string) (*fileConfig, error) {
	conf := defaultConfig()
	if path == "" {
		return conf, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, fmt.Errorf("%s: failed to parse: %w", path, err)
	}

	return conf, nil
}

// newLogger creates the console logger writing to stderr.
func (fc *fileConfig) newLogger(verbose bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(fc.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log_level: %w", err)
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// cacheConfig converts the file configuration to assetcache.Config.
func (fc *fileConfig) cacheConfig(log *zerolog.Logger) *assetcache.Config {
	conf := &assetcache.Config{
		PrimaryDir:   fc.PrimaryDir,
		SecondaryDir: fc.SecondaryDir,
		WindowSize:   fc.WindowSize,
		UserAgent:    fc.UserAgent,
		MaxBlobSize:  infounit.ByteCount(fc.MaxBlobSize),
		NoCoalesce:   fc.NoCoalesce,
		Logger:       log,
	}
	if fc.Timeout != 0 {
		conf.HTTPClient = &http.Client{Timeout: fc.Timeout}
	}
	if fc.LegacyKeys {
		conf.KeyFunc = assetcache.LegacyKey
	}

	return conf
}
