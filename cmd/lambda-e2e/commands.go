package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/config"
	"github.com/trufnetwork/lambda-e2e/lib/catalog"
	"github.com/trufnetwork/lambda-e2e/lib/deployer"
	"github.com/trufnetwork/lambda-e2e/lib/infra"
	"github.com/trufnetwork/lambda-e2e/lib/invoker"
	"github.com/trufnetwork/lambda-e2e/lib/synth"
	"github.com/trufnetwork/lambda-e2e/lib/wait"
)

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Region))
}

func (a *app) policy() wait.Policy {
	return wait.Policy{Interval: a.cfg.PollInterval, MaxAttempts: a.cfg.PollAttempts}
}

func (a *app) infrastructure(ctx context.Context, stackName string) (*infra.Infrastructure, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return infra.NewFromConfig(awsCfg, infra.Options{
		StackName:      stackName,
		HandlersDir:    a.cfg.HandlersDir,
		LayerDir:       a.cfg.LayerDir,
		Environment:    a.cfg.Suite.Environment,
		Tracing:        a.cfg.Tracing,
		Account:        a.cfg.Account,
		Region:         a.cfg.Region,
		AssetBucket:    a.cfg.AssetBucket,
		TimeoutMinutes: a.cfg.TimeoutMinutes,
		Policy:         a.policy(),
		Logger:         a.logger,
	})
}

// invocations returns the suite's invocations, or one empty call per handler.
func invocations(cfg *config.Config, handlers []catalog.Handler) []config.Invocation {
	if len(cfg.Suite.Invocations) > 0 {
		return cfg.Suite.Invocations
	}
	out := make([]config.Invocation, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, config.Invocation{Handler: h.Name})
	}
	return out
}

func newRunCommand(a *app) *cobra.Command {
	var reportPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deploy a fresh stack, run the invocations, print a report and delete the stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inf, err := a.infrastructure(ctx, infra.UniqueStackName(a.cfg.StackPrefix))
			if err != nil {
				return err
			}

			body := func(ctx context.Context, _ infra.Outputs) error {
				rows, runErr := inf.RunInvocations(ctx, invocations(a.cfg, inf.Handlers()))
				report, err := inf.Report(rows)
				if err != nil {
					return err
				}
				if reportPath != "" {
					if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), report)
				}
				return runErr
			}

			if a.cfg.KeepStack {
				a.logger.Warn("keeping stack after the run", zap.String("stack", inf.StackName()))
				if _, err := inf.Deploy(ctx); err != nil {
					return err
				}
				return body(ctx, inf.Outputs())
			}
			return infra.Session(ctx, inf, body)
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the markdown report to this file instead of stdout")
	return cmd
}

func newSynthCommand(a *app) *cobra.Command {
	var (
		stackName    string
		skipBundling bool
		keep         bool
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize the handler stack and print its template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			handlers, err := catalog.LoadHandlers(a.cfg.HandlersDir)
			if err != nil {
				return err
			}
			if stackName == "" {
				stackName = a.cfg.StackPrefix
			}
			res, err := synth.New(a.logger).Synthesize(cmd.Context(), synth.Request{
				StackName:    stackName,
				Handlers:     handlers,
				LayerDir:     a.cfg.LayerDir,
				Environment:  a.cfg.Suite.Environment,
				Tracing:      a.cfg.Tracing,
				AssetBucket:  a.cfg.AssetBucket,
				SkipBundling: skipBundling,
			})
			if err != nil {
				return err
			}
			if keep {
				a.logger.Info("assembly kept", zap.String("dir", res.AssemblyDir))
			} else {
				defer res.Close()
			}

			body, err := res.Template.Body()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().StringVar(&stackName, "stack-name", "", "Stack name (defaults to the stack prefix)")
	cmd.Flags().BoolVar(&skipBundling, "skip-bundling", false, "Do not build handler binaries")
	cmd.Flags().BoolVar(&keep, "keep-assembly", false, "Leave the cloud assembly directory in place")
	return cmd
}

func newDeployCommand(a *app) *cobra.Command {
	var stackName string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the handler stack and print its outputs; the stack is left in place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stackName == "" {
				stackName = infra.UniqueStackName(a.cfg.StackPrefix)
			}
			inf, err := a.infrastructure(cmd.Context(), stackName)
			if err != nil {
				return err
			}
			outputs, err := inf.Deploy(cmd.Context())
			if err != nil {
				return fmt.Errorf("deploy %s (delete it with `lambda-e2e destroy %s`): %w", stackName, stackName, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"stack": stackName, "outputs": outputs})
		},
	}
	cmd.Flags().StringVar(&stackName, "stack-name", "", "Stack name (defaults to a unique name)")
	return cmd
}

func newInvokeCommand(a *app) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "invoke FUNCTION",
		Short: "Invoke a deployed function and print the raw payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			awsCfg, err := a.awsConfig(cmd.Context())
			if err != nil {
				return err
			}
			out, err := invoker.New(lambda.NewFromConfig(awsCfg), a.logger).Invoke(cmd.Context(), args[0], []byte(payload))
			if len(out) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	return cmd
}

func newDestroyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy STACK",
		Short: "Request deletion of a stack without waiting for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			awsCfg, err := a.awsConfig(cmd.Context())
			if err != nil {
				return err
			}
			d := deployer.New(cloudformation.NewFromConfig(awsCfg), deployer.Options{Policy: a.policy(), Logger: a.logger})
			return d.Delete(cmd.Context(), args[0])
		},
	}
}
