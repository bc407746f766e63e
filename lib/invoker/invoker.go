package invoker

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
)

// LambdaAPI is the subset of the Lambda client the invoker uses.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Invoker calls deployed functions synchronously and hands back the raw response.
type Invoker struct {
	client LambdaAPI
	l      *zap.Logger
}

func New(client LambdaAPI, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{client: client, l: logger.Named("invoker")}
}

// Invoke runs a RequestResponse invocation. The payload is returned unchanged;
// comparing it against an expected value is up to the caller. Failures are not
// retried.
func (i *Invoker) Invoke(ctx context.Context, functionID string, payload []byte) ([]byte, error) {
	i.l.Debug("invoking function", zap.String("function", functionID), zap.Int("payloadBytes", len(payload)))

	out, err := i.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(functionID),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, &errs.InvocationError{FunctionID: functionID, Err: err}
	}
	if fe := aws.ToString(out.FunctionError); fe != "" {
		i.l.Warn("function reported an error", zap.String("function", functionID), zap.String("functionError", fe))
		return out.Payload, &errs.InvocationError{
			FunctionID:    functionID,
			StatusCode:    out.StatusCode,
			FunctionError: fe,
			Payload:       out.Payload,
		}
	}
	if out.StatusCode < 200 || out.StatusCode > 299 {
		return out.Payload, &errs.InvocationError{FunctionID: functionID, StatusCode: out.StatusCode, Payload: out.Payload}
	}
	return out.Payload, nil
}
