package cdklogger

import (
	"fmt"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

// LogInfo adds an INFO annotation to the construct. Annotations are printed
// when the app is synthesized.
func LogInfo(scope constructs.Construct, constructID string, format string, args ...interface{}) {
	awscdk.Annotations_Of(scope).AddInfo(jsii.String(message(scope, constructID, format, args...)))
}

// LogWarning adds a WARNING annotation to the construct.
func LogWarning(scope constructs.Construct, constructID string, format string, args ...interface{}) {
	awscdk.Annotations_Of(scope).AddWarningV2(jsii.String("lambda-e2e:"+constructID), jsii.String(message(scope, constructID, format, args...)))
}

// LogError adds an ERROR annotation to the construct. An error annotation
// fails synthesis.
func LogError(scope constructs.Construct, constructID string, format string, args ...interface{}) {
	awscdk.Annotations_Of(scope).AddError(jsii.String(message(scope, constructID, format, args...)))
}

// message prefixes the text with the construct id unless the construct path
// already ends with it.
func message(scope constructs.Construct, constructID string, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if constructID == "" {
		return msg
	}
	if path := *scope.Node().Path(); path == constructID || strings.HasSuffix(path, "/"+constructID) {
		return msg
	}
	return fmt.Sprintf("[%s] %s", constructID, msg)
}
