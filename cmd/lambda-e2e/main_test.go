package main

import (
	"bytes"
	"testing"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/lambda-e2e/tests/testdata"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := lo.Map(newRootCommand().Commands(), func(c *cobra.Command, _ int) string { return c.Name() })
	assert.ElementsMatch(t, []string{"run", "synth", "deploy", "invoke", "destroy"}, names)
}

func TestInvoke_RequiresFunction(t *testing.T) {
	_, err := execute(t, "invoke")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestDestroy_RequiresStack(t *testing.T) {
	_, err := execute(t, "destroy", "a", "b")
	require.Error(t, err)
}

func TestSynth_PrintsTemplate(t *testing.T) {
	t.Setenv("E2E_HANDLERS_DIR", testdata.HandlersDir())
	t.Setenv("E2E_LAYER_DIR", "")
	t.Setenv("E2E_SUITE_FILE", "")
	t.Setenv("E2E_ASSET_BUCKET", "")

	out, err := execute(t, "--log-level", "error", "synth", "--skip-bundling", "--stack-name", "cli-synth")
	require.NoError(t, err)
	assert.Contains(t, out, "HelloLambda:")
	assert.Contains(t, out, "HelloArn:")
	assert.Contains(t, out, "AWS::Lambda::Function")
}

func TestSynth_MissingHandlersDir(t *testing.T) {
	t.Setenv("E2E_HANDLERS_DIR", t.TempDir()+"/missing")
	t.Setenv("E2E_SUITE_FILE", "")

	_, err := execute(t, "--log-level", "error", "synth", "--skip-bundling")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
