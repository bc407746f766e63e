package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Suite describes a deployment and the invocations checked against it.
type Suite struct {
	StackPrefix string            `toml:"stack_prefix"`
	HandlersDir string            `toml:"handlers_dir"`
	LayerDir    string            `toml:"layer_dir"`
	Tracing     *bool             `toml:"tracing"`
	Environment map[string]string `toml:"environment"`
	Invocations []Invocation      `toml:"invocations"`
}

// Invocation is one call made after deployment. An empty Expect accepts any payload.
type Invocation struct {
	Handler string `toml:"handler"`
	Payload string `toml:"payload"`
	Expect  string `toml:"expect"`
}

// LoadSuite reads a suite file. Unknown keys are rejected so a typo does not
// silently drop a setting.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading suite file %s: %w", path, err)
	}

	var suite Suite
	md, err := toml.Decode(string(data), &suite)
	if err != nil {
		return nil, fmt.Errorf("error decoding suite file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("suite file %s: unknown keys %v", path, undecoded)
	}
	for i, inv := range suite.Invocations {
		if inv.Handler == "" {
			return nil, fmt.Errorf("suite file %s: invocation %d has no handler", path, i)
		}
	}
	return &suite, nil
}
