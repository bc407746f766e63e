package stacks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/config"
	"github.com/trufnetwork/lambda-e2e/lib/catalog"
	"github.com/trufnetwork/lambda-e2e/lib/cdklogger"
	"github.com/trufnetwork/lambda-e2e/lib/goasset"
	"github.com/trufnetwork/lambda-e2e/lib/layer"
)

var ErrDuplicateHandler = errors.New("duplicate handler name")

// PlaceholderID is the logical id of the resource an otherwise empty stack gets.
const PlaceholderID = "Placeholder"

const (
	functionTimeoutSeconds = 30
	functionMemoryMB       = 256
)

type HandlersStackProps struct {
	awscdk.StackProps
	Handlers []catalog.Handler
	// LayerDir is the shared layer content. Empty means no layer.
	LayerDir    string
	LayerFiles  []string
	Environment map[string]string
	Tracing     bool
	BuildFlags  []string
	Logger      *zap.Logger
}

// HandlersStack declares one function, log group and ARN output per handler.
// Logical ids are fixed so the template shape depends only on the handler set.
func HandlersStack(scope constructs.Construct, id string, props *HandlersStackProps) (awscdk.Stack, error) {
	if props == nil {
		props = &HandlersStackProps{}
	}
	logger := props.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("stack").With(zap.String("stack", id))

	seen := make(map[string]string, len(props.Handlers))
	for _, h := range props.Handlers {
		if prev, ok := seen[h.Name]; ok {
			return nil, fmt.Errorf("%w: %q from %s and %s", ErrDuplicateHandler, h.Name, prev, h.Path)
		}
		seen[h.Name] = h.Path
	}

	sprops := props.StackProps
	stack := awscdk.NewStack(scope, jsii.String(id), &sprops)
	if !config.IsStackInSynthesis(stack) {
		cdklogger.LogInfo(stack, "", "bundling disabled, handler binaries are not built")
	}

	var layers []awslambda.ILayerVersion
	if props.LayerDir != "" {
		l, err := layer.New(stack, "SharedLayer", layer.Props{
			Dir:    props.LayerDir,
			Files:  props.LayerFiles,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		overrideLogicalID(l, "SharedLayer")
		layers = append(layers, l)
	}

	environment := make(map[string]*string, len(props.Environment))
	for _, k := range sortedKeys(props.Environment) {
		environment[k] = jsii.String(props.Environment[k])
	}

	tracing := awslambda.Tracing_DISABLED
	if props.Tracing {
		tracing = awslambda.Tracing_ACTIVE
	}

	for _, h := range props.Handlers {
		code, err := goasset.Code(stack, h.Name+"Code", goasset.Options{
			SrcPath:    h.Path,
			BuildFlags: props.BuildFlags,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", h.Name, err)
		}

		fnProps := &awslambda.FunctionProps{
			Runtime:      awslambda.Runtime_PROVIDED_AL2023(),
			Architecture: awslambda.Architecture_X86_64(),
			Handler:      jsii.String(goasset.BootstrapName),
			Code:         code,
			Environment:  &environment,
			Tracing:      tracing,
			Timeout:      awscdk.Duration_Seconds(jsii.Number(functionTimeoutSeconds)),
			MemorySize:   jsii.Number(functionMemoryMB),
		}
		if len(layers) > 0 {
			fnProps.Layers = &layers
		}
		fn := awslambda.NewFunction(stack, jsii.String(h.Name+"Lambda"), fnProps)
		overrideLogicalID(fn, h.Name+"Lambda")

		logGroup := awslogs.NewLogGroup(stack, jsii.String(h.Name+"LogGroup"), &awslogs.LogGroupProps{
			LogGroupName:  jsii.String("/aws/lambda/" + *fn.FunctionName()),
			Retention:     awslogs.RetentionDays_ONE_DAY,
			RemovalPolicy: awscdk.RemovalPolicy_DESTROY,
		})
		overrideLogicalID(logGroup, h.Name+"LogGroup")

		awscdk.NewCfnOutput(stack, jsii.String(h.OutputKey()), &awscdk.CfnOutputProps{
			Value:       fn.FunctionArn(),
			Description: jsii.String("ARN of " + h.Name),
		})
		logger.Debug("handler declared", zap.String("handler", h.Name), zap.String("src", h.Path))
	}

	// CloudFormation rejects a template without resources
	if len(props.Handlers) == 0 && len(layers) == 0 {
		awscdk.NewCfnWaitConditionHandle(stack, jsii.String(PlaceholderID), nil)
		cdklogger.LogWarning(stack, "", "no handlers and no layer, declaring %s so the stack can be created", PlaceholderID)
	}

	cdklogger.LogInfo(stack, "", "declared %d handler(s)", len(props.Handlers))
	return stack, nil
}

// overrideLogicalID pins the logical id of the construct's CloudFormation resource.
func overrideLogicalID(c constructs.IConstruct, logicalID string) {
	if res, ok := c.Node().DefaultChild().(awscdk.CfnResource); ok {
		res.OverrideLogicalId(jsii.String(logicalID))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
