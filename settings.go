package anvil

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Settings are the tunables of a container hierarchy.
type Settings struct {
	// MaxDepth limits build nesting; zero disables the limit.
	MaxDepth int `yaml:"max_depth"`
	// LogLevel is used by NewLogger.
	LogLevel string `yaml:"log_level"`
	// Development selects zap's development logger in NewLogger.
	Development bool `yaml:"development"`
	// DefaultLifetime applies to registrations made without a lifetime
	// manager: transient, container-controlled, hierarchical, per-thread or
	// per-resolve.
	DefaultLifetime string `yaml:"default_lifetime"`
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		MaxDepth:        256,
		LogLevel:        "info",
		DefaultLifetime: "transient",
	}
}

const envPrefix = "ANVIL_"

// LoadSettings reads settings from a YAML file, if path is not empty, then
// applies ANVIL_MAX_DEPTH, ANVIL_LOG_LEVEL, ANVIL_DEVELOPMENT and
// ANVIL_DEFAULT_LIFETIME from the environment. envFiles are loaded into the
// environment first; variables already set are not overridden.
func LoadSettings(path string, envFiles ...string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, errors.Wrap(err, "read settings")
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&s); err != nil {
			return s, errors.Wrapf(err, "parse settings %s", path)
		}
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return s, errors.Wrap(err, "load env files")
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "MAX_DEPTH"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return s, errors.Wrapf(err, "%sMAX_DEPTH", envPrefix)
		}

		s.MaxDepth = n
	}

	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		s.LogLevel = strings.TrimSpace(v)
	}

	if v, ok := os.LookupEnv(envPrefix + "DEVELOPMENT"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return s, errors.Wrapf(err, "%sDEVELOPMENT", envPrefix)
		}

		s.Development = b
	}

	if v, ok := os.LookupEnv(envPrefix + "DEFAULT_LIFETIME"); ok {
		s.DefaultLifetime = strings.TrimSpace(v)
	}

	return s, s.Validate()
}

// Validate checks the settings values.
func (s Settings) Validate() error {
	if s.MaxDepth < 0 {
		return errors.Errorf("max_depth must not be negative, got %d", s.MaxDepth)
	}

	if _, err := lifetimeByName(s.DefaultLifetime); err != nil {
		return err
	}

	if s.LogLevel != "" {
		if _, err := zap.ParseAtomicLevel(s.LogLevel); err != nil {
			return errors.Wrap(err, "log_level")
		}
	}

	return nil
}

// NewLogger builds a zap logger from the settings.
func (s Settings) NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if s.Development {
		cfg = zap.NewDevelopmentConfig()
	}

	if s.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(s.LogLevel)
		if err != nil {
			return nil, errors.Wrap(err, "log_level")
		}

		cfg.Level = level
	}

	return cfg.Build()
}

// lifetimeByName returns a fresh manager for a DefaultLifetime value; nil
// means transient.
func lifetimeByName(name string) (LifetimeManager, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "transient":
		return nil, nil
	case "container-controlled", "singleton":
		return NewContainerControlled(), nil
	case "hierarchical":
		return NewHierarchical(), nil
	case "per-thread":
		return NewPerThread(), nil
	case "per-resolve":
		return NewPerResolve(), nil
	}

	return nil, errors.Errorf("unknown lifetime %q", name)
}
