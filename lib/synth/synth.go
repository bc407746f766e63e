// Package synth turns a set of handlers into a synthesized cloud assembly: a
// CloudFormation template plus the staged asset directories it references.
package synth

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/config"
	"github.com/trufnetwork/lambda-e2e/lib/catalog"
	"github.com/trufnetwork/lambda-e2e/lib/template"
	"github.com/trufnetwork/lambda-e2e/stacks"
)

// ErrDuplicateHandler is returned when two handler files map to one logical name.
var ErrDuplicateHandler = stacks.ErrDuplicateHandler

// Request describes the stack to synthesize.
type Request struct {
	StackName   string `validate:"required,max=128"`
	Handlers    []catalog.Handler
	LayerDir    string
	LayerFiles  []string
	Environment map[string]string
	Tracing     bool
	// AssetBucket replaces the bootstrap bucket as the asset destination.
	AssetBucket string
	// SkipBundling synthesizes the template without building any asset.
	SkipBundling bool
	BuildFlags   []string
}

// Result is a synthesized assembly. The caller owns AssemblyDir and must Close it.
type Result struct {
	StackName   string
	Template    *template.Template
	AssemblyDir string
	Handlers    []catalog.Handler
}

// Close removes the assembly directory.
func (r *Result) Close() error {
	if r == nil || r.AssemblyDir == "" {
		return nil
	}
	return os.RemoveAll(r.AssemblyDir)
}

// Synthesizer builds cloud assemblies into temp directories.
type Synthesizer struct {
	logger   *zap.Logger
	validate *validator.Validate
	// TempRoot is where assembly directories are created; empty means os.TempDir.
	TempRoot string
}

func New(logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{logger: logger.Named("synth"), validate: validator.New()}
}

// Synthesize builds the stack. On any error, including a panic raised inside
// the CDK runtime, the assembly directory is removed before returning.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (res *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid synth request: %w", err)
	}

	outdir, err := os.MkdirTemp(s.TempRoot, "cdk.out-*")
	if err != nil {
		return nil, fmt.Errorf("create assembly dir: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesize %s: %v", req.StackName, r)
		}
		if err != nil {
			res = nil
			if rmErr := os.RemoveAll(outdir); rmErr != nil {
				s.logger.Warn("removing assembly dir failed", zap.String("dir", outdir), zap.Error(rmErr))
			}
		}
	}()

	appProps := &awscdk.AppProps{
		Outdir:             jsii.String(outdir),
		AnalyticsReporting: jsii.Bool(false),
	}
	if req.SkipBundling {
		appCtx := config.NoBundlingContext()
		appProps.Context = &appCtx
	}
	app := awscdk.NewApp(appProps)

	synthProps := &awscdk.DefaultStackSynthesizerProps{
		GenerateBootstrapVersionRule: jsii.Bool(false),
	}
	if req.AssetBucket != "" {
		synthProps.FileAssetsBucketName = jsii.String(req.AssetBucket)
	}

	_, err = stacks.HandlersStack(app, req.StackName, &stacks.HandlersStackProps{
		StackProps: awscdk.StackProps{
			StackName:   jsii.String(req.StackName),
			Synthesizer: awscdk.NewDefaultStackSynthesizer(synthProps),
			Description: jsii.String("lambda e2e handlers"),
		},
		Handlers:    req.Handlers,
		LayerDir:    req.LayerDir,
		LayerFiles:  req.LayerFiles,
		Environment: req.Environment,
		Tracing:     req.Tracing,
		BuildFlags:  req.BuildFlags,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, err
	}

	assembly := app.Synth(nil)
	artifact := assembly.GetStackByName(jsii.String(req.StackName))
	tpl, err := template.FromValue(artifact.Template())
	if err != nil {
		return nil, err
	}

	s.logger.Info("stack synthesized",
		zap.String("stack", req.StackName),
		zap.Int("handlers", len(req.Handlers)),
		zap.Int("functions", len(tpl.FunctionResources())),
		zap.String("assembly", *assembly.Directory()),
	)
	return &Result{
		StackName:   req.StackName,
		Template:    tpl,
		AssemblyDir: *assembly.Directory(),
		Handlers:    req.Handlers,
	}, nil
}
