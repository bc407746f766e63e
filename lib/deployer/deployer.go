package deployer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
	"github.com/trufnetwork/lambda-e2e/lib/wait"
)

// DefaultTimeoutMinutes is the creation timeout handed to CloudFormation.
const DefaultTimeoutMinutes int32 = 10

// CloudFormationAPI is the subset of the CloudFormation client the deployer uses.
type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// Options configure a Deployer.
type Options struct {
	// TimeoutMinutes is passed to CreateStack; zero means DefaultTimeoutMinutes.
	TimeoutMinutes int32
	// Policy bounds the wait for creation to finish; zero means wait.DefaultPolicy.
	Policy wait.Policy
	Logger *zap.Logger
}

// Deployer creates, describes and deletes stacks.
type Deployer struct {
	client  CloudFormationAPI
	timeout int32
	policy  wait.Policy
	l       *zap.Logger
}

func New(client CloudFormationAPI, opt Options) *Deployer {
	if opt.TimeoutMinutes == 0 {
		opt.TimeoutMinutes = DefaultTimeoutMinutes
	}
	if opt.Policy == (wait.Policy{}) {
		opt.Policy = wait.DefaultPolicy()
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deployer{
		client:  client,
		timeout: opt.TimeoutMinutes,
		policy:  opt.Policy,
		l:       logger.Named("deployer"),
	}
}

// Create submits the template body and blocks until the stack settles. A failed
// stack is left in place (OnFailure=DO_NOTHING); the caller still owns deletion
// for every outcome, including a timeout.
func (d *Deployer) Create(ctx context.Context, name, body string) (*types.Stack, error) {
	d.l.Info("creating stack", zap.String("stack", name), zap.Int32("timeoutMinutes", d.timeout))

	_, err := d.client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:        aws.String(name),
		TemplateBody:     aws.String(body),
		TimeoutInMinutes: aws.Int32(d.timeout),
		OnFailure:        types.OnFailureDoNothing,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create stack %s: %w", name, err)
	}

	var last *types.Stack
	attempts, err := d.policy.Poll(ctx, func(ctx context.Context) (bool, error) {
		stack, err := d.Describe(ctx, name)
		if err != nil {
			return false, err
		}
		last = stack
		phase := PhaseOf(stack.StackStatus)
		d.l.Debug("stack status", zap.String("stack", name), zap.String("status", string(stack.StackStatus)), zap.Stringer("phase", phase))
		switch phase {
		case PhaseComplete:
			return true, nil
		case PhaseFailed:
			return false, d.failure(ctx, stack)
		default:
			return false, nil
		}
	})
	if errors.Is(err, wait.ErrAttemptsExhausted) {
		status := ""
		if last != nil {
			status = string(last.StackStatus)
		}
		timeout := &errs.DeploymentTimeoutError{Stack: name, Attempts: attempts, LastStatus: status}
		d.l.Warn("stack creation timed out",
			zap.String("stack", name),
			zap.Int("attempts", attempts),
			zap.String("lastStatus", status),
			zap.Stringer("phase", PhaseOfResult(timeout)),
		)
		return nil, timeout
	}
	if err != nil {
		return nil, err
	}

	// the poll only kept the last status; fetch the full description
	stack, err := d.Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	d.l.Info("stack created", zap.String("stack", name), zap.Int("attempts", attempts), zap.Int("outputs", len(stack.Outputs)))
	return stack, nil
}

// Describe returns the current description of the stack. A stack the service
// does not know about yields *errs.NotFoundError.
func (d *Deployer) Describe(ctx context.Context, name string) (*types.Stack, error) {
	out, err := d.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if isStackMissing(err) {
			return nil, &errs.NotFoundError{What: "stack", Path: name, Err: err}
		}
		return nil, fmt.Errorf("describe stack %s: %w", name, err)
	}
	if len(out.Stacks) == 0 {
		return nil, &errs.NotFoundError{What: "stack", Path: name}
	}
	return &out.Stacks[0], nil
}

// Delete requests deletion and returns without waiting for it to finish.
func (d *Deployer) Delete(ctx context.Context, name string) error {
	d.l.Info("deleting stack", zap.String("stack", name))
	if _, err := d.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(name)}); err != nil {
		return fmt.Errorf("delete stack %s: %w", name, err)
	}
	return nil
}

func (d *Deployer) failure(ctx context.Context, stack *types.Stack) error {
	name := aws.ToString(stack.StackName)
	failed := &errs.DeploymentFailedError{
		Stack:  name,
		Status: string(stack.StackStatus),
		Reason: aws.ToString(stack.StackStatusReason),
	}

	events, err := d.client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(name)})
	if err != nil {
		// diagnostics only; the failure itself is what gets reported
		d.l.Warn("could not read stack events", zap.String("stack", name), zap.Error(err))
		return failed
	}
	for _, ev := range events.StackEvents {
		if !strings.HasSuffix(string(ev.ResourceStatus), "_FAILED") {
			continue
		}
		failed.ResourceFailures = append(failed.ResourceFailures, errs.ResourceFailure{
			LogicalID: aws.ToString(ev.LogicalResourceId),
			Status:    string(ev.ResourceStatus),
			Reason:    aws.ToString(ev.ResourceStatusReason),
		})
	}
	d.l.Error("stack creation failed", zap.Error(failed))
	return failed
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

// Outputs collapses the stack's ordered output list into a map. Entries without
// a key are skipped; a repeated key is an error.
func Outputs(stack *types.Stack) (map[string]string, error) {
	out := make(map[string]string, len(stack.Outputs))
	for _, o := range stack.Outputs {
		key := aws.ToString(o.OutputKey)
		if key == "" {
			continue
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("stack %s: duplicate output key %q", aws.ToString(stack.StackName), key)
		}
		out[key] = aws.ToString(o.OutputValue)
	}
	return out, nil
}
