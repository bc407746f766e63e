package config

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/constructs-go/constructs/v10"
)

// BundlingContextKey lists the stacks whose assets are bundled. An empty list
// turns bundling off for the whole app.
const BundlingContextKey = "aws:cdk:bundling-stacks"

// NoBundlingContext is app context that synthesizes without building assets.
func NoBundlingContext() map[string]interface{} {
	return map[string]interface{}{BundlingContextKey: []interface{}{}}
}

// IsStackInSynthesis reports whether assets of the stack owning scope are
// built during this synthesis.
func IsStackInSynthesis(scope constructs.Construct) bool {
	stack := awscdk.Stack_Of(scope)
	if stack == nil {
		return false
	}
	return *stack.BundlingRequired()
}
