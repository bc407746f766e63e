package config

import (
	"fmt"
	"time"
)

// Config is the merged configuration of a run: environment first, then the
// suite file on top of it.
type Config struct {
	Environment
	Suite Suite
}

// Load parses the environment and, when E2E_SUITE_FILE is set, the suite file.
func Load() (*Config, error) {
	envCfg, err := ParseEnvironment[Environment]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return FromEnvironment(envCfg)
}

// FromEnvironment merges the suite file named by e into e.
func FromEnvironment(e Environment) (*Config, error) {
	cfg := &Config{Environment: e}
	if e.SuiteFile == "" {
		return cfg, nil
	}

	suite, err := LoadSuite(e.SuiteFile)
	if err != nil {
		return nil, err
	}
	cfg.Suite = *suite
	if suite.StackPrefix != "" {
		cfg.StackPrefix = suite.StackPrefix
	}
	if suite.HandlersDir != "" {
		cfg.HandlersDir = suite.HandlersDir
	}
	if suite.LayerDir != "" {
		cfg.LayerDir = suite.LayerDir
	}
	if suite.Tracing != nil {
		cfg.Tracing = *suite.Tracing
	}
	return cfg, nil
}

// PollBudget is the longest a deployment is waited for.
func (c *Config) PollBudget() time.Duration {
	return c.PollInterval * time.Duration(c.PollAttempts)
}
