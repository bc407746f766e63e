package testhelpers

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/jsii-runtime-go"

	"github.com/trufnetwork/lambda-e2e/config"
)

// NewApp returns an app that synthesizes into outdir. Without bundling no
// asset is built, which keeps template tests free of toolchain calls.
func NewApp(outdir string, bundling bool) awscdk.App {
	props := &awscdk.AppProps{AnalyticsReporting: jsii.Bool(false)}
	if outdir != "" {
		props.Outdir = jsii.String(outdir)
	}
	if !bundling {
		ctx := config.NoBundlingContext()
		props.Context = &ctx
	}
	return awscdk.NewApp(props)
}

// TemplateOf synthesizes stack and returns the assertion template.
func TemplateOf(stack awscdk.Stack) assertions.Template {
	return assertions.Template_FromStack(stack, nil)
}
