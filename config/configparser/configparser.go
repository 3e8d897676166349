/*
 * EV6 - System configuration loader.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package configparser loads the system configuration (CPU count,
// memory size, PAL base, console transport, environment variables
// CSERVE exposes at boot) from a YAML/JSON/TOML file via viper, and
// lets optional sections register themselves the way the teacher's
// device models registered into its text config format.
package configparser

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// SystemConfig is the resolved configuration one ev6sim process boots
// with.
type SystemConfig struct {
	NumCPUs       int
	MemoryBytes   int
	PALBase       uint64
	ConsoleListen string
	LogLevel      string
	LogFile       string
	Debug         bool

	// EnvVars seeds the CSERVE environment store (GET_ENV/SET_ENV),
	// e.g. boot flags a real console would have persisted.
	EnvVars map[string]string
}

func defaults() SystemConfig {
	return SystemConfig{
		NumCPUs:       1,
		MemoryBytes:   64 * 1024 * 1024,
		PALBase:       0x10000,
		ConsoleListen: "localhost:10200",
		LogLevel:      "info",
		LogFile:       "",
		EnvVars:       map[string]string{},
	}
}

// sectionHandler is a registered extension point: a named config
// section, applied to SystemConfig once viper has unmarshaled the raw
// file. This mirrors the teacher's RegisterModel/RegisterOption/
// RegisterSwitch registry, generalized from per-device-line parsing to
// per-section config application since this core's config is
// structured rather than line-oriented.
type sectionHandler func(v *viper.Viper, cfg *SystemConfig) error

var sections = map[string]sectionHandler{}

// RegisterSection installs a handler invoked with the sub-tree rooted
// at name, if present in the loaded config file. Call from an init
// function, matching the teacher's device-registration convention.
func RegisterSection(name string, fn sectionHandler) {
	sections[strings.ToLower(name)] = fn
}

// Load reads path (any format viper supports: yaml, json, toml) and
// merges it over the built-in defaults. Command-line overrides should
// be applied by the caller after Load returns, since flags always take
// precedence over file configuration in this core's layering.
func Load(path string) (SystemConfig, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if v.IsSet("cpus") {
		cfg.NumCPUs = v.GetInt("cpus")
	}
	if v.IsSet("memory_bytes") {
		cfg.MemoryBytes = v.GetInt("memory_bytes")
	}
	if v.IsSet("pal_base") {
		cfg.PALBase = uint64(v.GetInt64("pal_base"))
	}
	if v.IsSet("console_listen") {
		cfg.ConsoleListen = v.GetString("console_listen")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("log_file") {
		cfg.LogFile = v.GetString("log_file")
	}
	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}
	if v.IsSet("env") {
		// viper lowercases keys; console variable names are upper case.
		for key, val := range v.GetStringMapString("env") {
			cfg.EnvVars[strings.ToUpper(key)] = val
		}
	}

	for name, fn := range sections {
		if !v.IsSet(name) {
			continue
		}
		if err := fn(v, &cfg); err != nil {
			return cfg, fmt.Errorf("section %s: %w", name, err)
		}
	}

	return cfg, nil
}
