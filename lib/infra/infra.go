// Package infra drives a complete e2e deployment: catalog the handlers,
// synthesize the stack, upload its assets, create it, invoke the functions and
// delete it again.
package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/lib/catalog"
	"github.com/trufnetwork/lambda-e2e/lib/deployer"
	"github.com/trufnetwork/lambda-e2e/lib/invoker"
	"github.com/trufnetwork/lambda-e2e/lib/packager"
	"github.com/trufnetwork/lambda-e2e/lib/synth"
	"github.com/trufnetwork/lambda-e2e/lib/wait"
)

var (
	ErrNotDeployed     = errors.New("stack not deployed")
	ErrAlreadyDeployed = errors.New("stack already deployed")
	ErrDeleted         = errors.New("stack already deleted")
	ErrUnknownHandler  = errors.New("unknown handler")
)

// STSAPI is the subset of the STS client used to resolve the account.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Clients are the cloud clients an Infrastructure talks to.
type Clients struct {
	S3             packager.ObjectStore
	CloudFormation deployer.CloudFormationAPI
	Lambda         invoker.LambdaAPI
	// STS is only needed when Options.Account is empty.
	STS STSAPI
}

// Synthesizer produces the cloud assembly for a request.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error)
}

// Options describe one deployment.
type Options struct {
	StackName   string `validate:"required,max=128"`
	HandlersDir string `validate:"required"`
	LayerDir    string
	LayerFiles  []string
	Environment map[string]string
	Tracing     bool
	Account     string
	Region      string `validate:"required"`
	AssetBucket string

	TimeoutMinutes int32       `validate:"gte=0"`
	Policy         wait.Policy `validate:"-"`
	Logger         *zap.Logger `validate:"-"`
}

// Outputs are the stack outputs by key.
type Outputs map[string]string

// FunctionARN returns the ARN output of the handler.
func (o Outputs) FunctionARN(h catalog.Handler) (string, bool) {
	arn, ok := o[h.OutputKey()]
	return arn, ok
}

// Infrastructure is one stack's lifecycle. Deploy runs at most once and so
// does Delete. The lock is never held across a remote call, so a Delete from
// another goroutine is sent while Deploy is still waiting on the stack.
type Infrastructure struct {
	opts     Options
	clients  Clients
	synth    Synthesizer
	deployer *deployer.Deployer
	invoker  *invoker.Invoker
	l        *zap.Logger

	mu       sync.Mutex
	deployed bool
	handlers []catalog.Handler
	outputs  Outputs
	uploaded int

	deleteOnce sync.Once
	deleteErr  error
	deleted    bool
}

var validate = validator.New()

func New(clients Clients, synthesizer Synthesizer, opts Options) (*Infrastructure, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid infrastructure options: %w", err)
	}
	if clients.S3 == nil || clients.CloudFormation == nil || clients.Lambda == nil {
		return nil, errors.New("S3, CloudFormation and Lambda clients are required")
	}
	if opts.Account == "" && clients.STS == nil {
		return nil, errors.New("an STS client is required when no account is configured")
	}
	if opts.Policy != (wait.Policy{}) {
		if err := validate.Struct(opts.Policy); err != nil {
			return nil, fmt.Errorf("invalid wait policy: %w", err)
		}
	}
	if synthesizer == nil {
		return nil, errors.New("a synthesizer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("stack", opts.StackName))

	return &Infrastructure{
		opts:    opts,
		clients: clients,
		synth:   synthesizer,
		deployer: deployer.New(clients.CloudFormation, deployer.Options{
			TimeoutMinutes: opts.TimeoutMinutes,
			Policy:         opts.Policy,
			Logger:         logger,
		}),
		invoker: invoker.New(clients.Lambda, logger),
		l:       logger.Named("infra"),
	}, nil
}

// NewFromConfig builds the SDK clients from cfg. The region of cfg is used when
// opts does not name one.
func NewFromConfig(cfg aws.Config, opts Options) (*Infrastructure, error) {
	if opts.Region == "" {
		opts.Region = cfg.Region
	}
	clients := Clients{
		S3:             s3.NewFromConfig(cfg),
		CloudFormation: cloudformation.NewFromConfig(cfg),
		Lambda:         lambda.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
	}
	return New(clients, synth.New(opts.Logger), opts)
}

// StackName is the name of the managed stack.
func (i *Infrastructure) StackName() string { return i.opts.StackName }

// Deploy catalogs the handlers, synthesizes the stack, uploads the assets that
// are missing and creates the stack. It returns the stack outputs. Whatever the
// outcome, the caller must still call Delete.
func (i *Infrastructure) Deploy(ctx context.Context) (Outputs, error) {
	i.mu.Lock()
	switch {
	case i.deleted:
		i.mu.Unlock()
		return nil, ErrDeleted
	case i.deployed:
		i.mu.Unlock()
		return nil, ErrAlreadyDeployed
	}
	i.deployed = true
	i.mu.Unlock()

	handlers, err := catalog.LoadHandlers(i.opts.HandlersDir)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.handlers = handlers
	i.mu.Unlock()
	i.l.Info("handlers cataloged", zap.Int("count", len(handlers)), zap.String("dir", i.opts.HandlersDir))

	res, err := i.synth.Synthesize(ctx, synth.Request{
		StackName:   i.opts.StackName,
		Handlers:    handlers,
		LayerDir:    i.opts.LayerDir,
		LayerFiles:  i.opts.LayerFiles,
		Environment: i.opts.Environment,
		Tracing:     i.opts.Tracing,
		AssetBucket: i.opts.AssetBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			i.l.Warn("removing assembly failed", zap.Error(err))
		}
	}()

	account, err := i.account(ctx)
	if err != nil {
		return nil, err
	}

	uploaded, err := packager.New(i.clients.S3, account, i.opts.Region, i.l).Upload(ctx, res.Template, res.AssemblyDir)
	i.mu.Lock()
	i.uploaded = uploaded
	i.mu.Unlock()
	if err != nil {
		return nil, err
	}
	i.l.Info("assets packaged", zap.Int("uploaded", uploaded))

	body, err := res.Template.Body()
	if err != nil {
		return nil, err
	}
	stack, err := i.deployer.Create(ctx, i.opts.StackName, body)
	if err != nil {
		return nil, err
	}

	outputs, err := deployer.Outputs(stack)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.outputs = outputs
	i.mu.Unlock()
	return outputs, nil
}

func (i *Infrastructure) account(ctx context.Context) (string, error) {
	if i.opts.Account != "" {
		return i.opts.Account, nil
	}
	out, err := i.clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// Delete requests deletion of the stack without waiting for it to finish.
// Only the first call reaches CloudFormation; later calls return its result.
func (i *Infrastructure) Delete(ctx context.Context) error {
	i.deleteOnce.Do(func() {
		i.mu.Lock()
		i.deleted = true
		i.mu.Unlock()
		i.deleteErr = i.deployer.Delete(ctx, i.opts.StackName)
	})
	return i.deleteErr
}

// Invoke calls a deployed function by name or ARN and returns the raw payload.
func (i *Infrastructure) Invoke(ctx context.Context, functionID string, payload []byte) ([]byte, error) {
	return i.invoker.Invoke(ctx, functionID, payload)
}

// InvokeHandler resolves the handler's function ARN from the stack outputs and invokes it.
func (i *Infrastructure) InvokeHandler(ctx context.Context, name string, payload []byte) ([]byte, error) {
	arn, err := i.FunctionARN(name)
	if err != nil {
		return nil, err
	}
	return i.Invoke(ctx, arn, payload)
}

// FunctionARN looks up the deployed function of a handler by logical name.
func (i *Infrastructure) FunctionARN(name string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.outputs == nil {
		return "", ErrNotDeployed
	}
	for _, h := range i.handlers {
		if h.Name == name {
			if arn, ok := i.outputs.FunctionARN(h); ok {
				return arn, nil
			}
			return "", fmt.Errorf("no output %s for handler %s", h.OutputKey(), name)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownHandler, name)
}

// Handlers returns the cataloged handlers of the last Deploy.
func (i *Infrastructure) Handlers() []catalog.Handler {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]catalog.Handler(nil), i.handlers...)
}

// Outputs returns the stack outputs of the last successful Deploy.
func (i *Infrastructure) Outputs() Outputs {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(Outputs, len(i.outputs))
	for k, v := range i.outputs {
		out[k] = v
	}
	return out
}

// Uploaded is the number of assets the last Deploy uploaded.
func (i *Infrastructure) Uploaded() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.uploaded
}

// Status describes the stack. After deletion completes it returns an
// *errs.NotFoundError.
func (i *Infrastructure) Status(ctx context.Context) (*types.Stack, error) {
	return i.deployer.Describe(ctx, i.opts.StackName)
}
