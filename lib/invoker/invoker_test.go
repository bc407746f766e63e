package invoker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
	"github.com/trufnetwork/lambda-e2e/lib/invoker"
)

type fakeLambda struct {
	out   *lambda.InvokeOutput
	err   error
	calls []*lambda.InvokeInput
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.calls = append(f.calls, in)
	return f.out, f.err
}

func TestInvoke_ReturnsRawPayload(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(`"first lambda"`)}}

	got, err := invoker.New(fake, nil).Invoke(context.Background(), "arn:fn", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"first lambda"`), got)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "arn:fn", aws.ToString(fake.calls[0].FunctionName))
	assert.Equal(t, types.InvocationTypeRequestResponse, fake.calls[0].InvocationType)
}

func TestInvoke_FunctionError(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		StatusCode:    200,
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"boom"}`),
	}}

	got, err := invoker.New(fake, nil).Invoke(context.Background(), "arn:fn", []byte(`{}`))
	var invErr *errs.InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, "Unhandled", invErr.FunctionError)
	assert.Equal(t, []byte(`{"errorMessage":"boom"}`), got)
}

func TestInvoke_ServiceErrorIsNotRetried(t *testing.T) {
	boom := errors.New("throttled")
	fake := &fakeLambda{err: boom}

	_, err := invoker.New(fake, nil).Invoke(context.Background(), "arn:fn", nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, fake.calls, 1)
}

func TestInvoke_NonSuccessStatus(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{StatusCode: 500}}

	_, err := invoker.New(fake, nil).Invoke(context.Background(), "arn:fn", nil)
	var invErr *errs.InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.EqualValues(t, 500, invErr.StatusCode)
}
