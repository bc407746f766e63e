package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Environment is the process-level configuration of an e2e run.
type Environment struct {
	Region      string `env:"AWS_REGION" envDefault:"us-east-1"`
	Account     string `env:"E2E_ACCOUNT"`
	AssetBucket string `env:"E2E_ASSET_BUCKET"`
	StackPrefix string `env:"E2E_STACK_PREFIX" envDefault:"lambda-e2e"`
	HandlersDir string `env:"E2E_HANDLERS_DIR" envDefault:"e2e/handlers"`
	LayerDir    string `env:"E2E_LAYER_DIR"`
	SuiteFile   string `env:"E2E_SUITE_FILE"`
	LogLevel    string `env:"E2E_LOG_LEVEL" envDefault:"info"`
	Tracing     bool   `env:"E2E_TRACING" envDefault:"true"`
	// KeepStack leaves the stack in place after a run, for debugging.
	KeepStack bool `env:"E2E_KEEP_STACK" envDefault:"false"`

	TimeoutMinutes int32         `env:"E2E_TIMEOUT_MINUTES" envDefault:"10"`
	PollInterval   time.Duration `env:"E2E_POLL_INTERVAL" envDefault:"2s"`
	PollAttempts   int           `env:"E2E_POLL_ATTEMPTS" envDefault:"50"`
}

// ParseEnvironment fills T from the process environment.
func ParseEnvironment[T any]() (T, error) {
	return env.ParseAs[T]()
}

// ParseEnvironmentFrom fills T from the given variables only.
func ParseEnvironmentFrom[T any](vars map[string]string) (T, error) {
	return env.ParseAsWithOptions[T](env.Options{Environment: vars})
}
