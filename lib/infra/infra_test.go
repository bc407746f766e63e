package infra_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/trufnetwork/lambda-e2e/config"
	"github.com/trufnetwork/lambda-e2e/lib/catalog"
	"github.com/trufnetwork/lambda-e2e/lib/errs"
	"github.com/trufnetwork/lambda-e2e/lib/infra"
	"github.com/trufnetwork/lambda-e2e/lib/synth"
	"github.com/trufnetwork/lambda-e2e/lib/template"
	"github.com/trufnetwork/lambda-e2e/lib/wait"
	"github.com/trufnetwork/lambda-e2e/tests/testutil"
)

const (
	account = "123456789012"
	region  = "us-east-1"
	bucket  = "cdk-assets-" + account + "-" + region
)

// fakeSynth stages one asset per handler and emits the matching template.
type fakeSynth struct {
	t    *testing.T
	dirs []string
}

func (f *fakeSynth) Synthesize(_ context.Context, req synth.Request) (*synth.Result, error) {
	dir := f.t.TempDir()
	f.dirs = append(f.dirs, dir)

	resources := map[string]any{}
	outputs := map[string]any{}
	for _, h := range req.Handlers {
		key := "hash" + h.Name
		testutil.WriteTree(f.t, dir, map[string]string{"asset." + key + "/bootstrap": "bin-" + h.Name})
		resources[h.Name+"Lambda"] = map[string]any{
			"Type": template.TypeFunction,
			"Properties": map[string]any{
				"Code": map[string]any{
					"S3Bucket": map[string]any{"Fn::Sub": "cdk-assets-${AWS::AccountId}-${AWS::Region}"},
					"S3Key":    key + ".zip",
				},
			},
		}
		outputs[h.OutputKey()] = map[string]any{"Value": map[string]any{"Fn::GetAtt": []any{h.Name + "Lambda", "Arn"}}}
	}
	doc, err := json.Marshal(map[string]any{"Resources": resources, "Outputs": outputs})
	if err != nil {
		return nil, err
	}
	tpl, err := template.Parse(doc)
	if err != nil {
		return nil, err
	}
	return &synth.Result{StackName: req.StackName, Template: tpl, AssemblyDir: dir, Handlers: req.Handlers}, nil
}

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (m *memS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = []byte("zip")
	m.puts++
	return &s3.PutObjectOutput{}, nil
}

// fakeCFN completes every stack on the second describe and forgets it on delete.
// Like CloudFormation it refuses templates without resources.
type fakeCFN struct {
	mu        sync.Mutex
	createErr error
	final     cfntypes.StackStatus
	bodies    map[string]string
	describes map[string]int
	deletes   int

	// gate, when set, holds every DescribeStacks until it is closed.
	gate chan struct{}
	// created, when set, receives the name of each created stack.
	created chan string
}

func newFakeCFN() *fakeCFN {
	return &fakeCFN{final: cfntypes.StackStatusCreateComplete, bodies: map[string]string{}, describes: map[string]int{}}
}

func (f *fakeCFN) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	name := aws.ToString(in.StackName)
	body := aws.ToString(in.TemplateBody)

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: "Template format error: " + err.Error()}
	}
	if resources, _ := doc["Resources"].(map[string]any); len(resources) == 0 {
		return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: "Template format error: At least one Resources member must be defined."}
	}

	f.mu.Lock()
	if f.createErr != nil {
		f.mu.Unlock()
		return nil, f.createErr
	}
	f.bodies[name] = body
	f.mu.Unlock()

	if f.created != nil {
		f.created <- name
	}
	return &cloudformation.CreateStackOutput{StackId: in.StackName}, nil
}

func (f *fakeCFN) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.StackName)
	body, ok := f.bodies[name]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id " + name + " does not exist"}
	}
	f.describes[name]++
	status := cfntypes.StackStatusCreateInProgress
	if f.describes[name] > 1 {
		status = f.final
	}

	tpl, err := template.Parse(mustJSON(body))
	if err != nil {
		return nil, err
	}
	var outputs []cfntypes.Output
	for _, key := range tpl.OutputKeys() {
		outputs = append(outputs, cfntypes.Output{
			OutputKey:   aws.String(key),
			OutputValue: aws.String(fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", region, account, key)),
		})
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []cfntypes.Stack{{
		StackName:   in.StackName,
		StackStatus: status,
		Outputs:     outputs,
	}}}, nil
}

func (f *fakeCFN) DescribeStackEvents(_ context.Context, _ *cloudformation.DescribeStackEventsInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	return &cloudformation.DescribeStackEventsOutput{}, nil
}

func (f *fakeCFN) DeleteStack(_ context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bodies, aws.ToString(in.StackName))
	f.deletes++
	return &cloudformation.DeleteStackOutput{}, nil
}

// mustJSON converts the YAML body back to JSON for template.Parse.
func mustJSON(yamlBody string) []byte {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(yamlBody), &doc); err != nil {
		panic(err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return out
}

// fakeLambda answers with the reply configured for the ARN suffix.
type fakeLambda struct {
	replies map[string]string
	calls   int
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.calls++
	name := aws.ToString(in.FunctionName)
	for suffix, reply := range f.replies {
		if regexp.MustCompile(":" + suffix + "$").MatchString(name) {
			return &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(reply)}, nil
		}
	}
	return &lambda.InvokeOutput{StatusCode: 200, FunctionError: aws.String("Unhandled"), Payload: []byte(`{"errorMessage":"boom"}`)}, nil
}

type fakeSTS struct{ calls int }

func (f *fakeSTS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.calls++
	return &sts.GetCallerIdentityOutput{Account: aws.String(account)}, nil
}

type InfraSuite struct {
	suite.Suite
	logger   *zap.Logger
	handlers string
	s3       *memS3
	cfn      *fakeCFN
	lambda   *fakeLambda
	sts      *fakeSTS
}

func TestInfraSuite(t *testing.T) {
	suite.Run(t, new(InfraSuite))
}

func (s *InfraSuite) SetupSuite() {
	var err error
	s.logger, err = zap.NewDevelopment()
	s.Require().NoError(err)
}

func (s *InfraSuite) SetupTest() {
	s.handlers = testutil.HandlerDir(s.T(), "handler", "handler2")
	s.s3 = &memS3{objects: map[string][]byte{}}
	s.cfn = newFakeCFN()
	s.lambda = &fakeLambda{replies: map[string]string{
		"HandlerArn":  `"first lambda"`,
		"Handler2Arn": `"second lambda"`,
	}}
	s.sts = &fakeSTS{}
}

func (s *InfraSuite) newInfra(name string) (*infra.Infrastructure, *fakeSynth) {
	fs := &fakeSynth{t: s.T()}
	inf, err := infra.New(infra.Clients{S3: s.s3, CloudFormation: s.cfn, Lambda: s.lambda, STS: s.sts}, fs, infra.Options{
		StackName:   name,
		HandlersDir: s.handlers,
		Region:      region,
		Policy:      wait.Policy{Interval: time.Millisecond, MaxAttempts: 5},
		Logger:      s.logger,
	})
	s.Require().NoError(err)
	return inf, fs
}

func (s *InfraSuite) TestDeploy_InvokeDelete() {
	inf, fs := s.newInfra("e2e-a")

	outputs, err := inf.Deploy(context.Background())
	s.Require().NoError(err)
	s.Len(outputs, 2)
	s.Equal(2, inf.Uploaded())
	s.Contains(s.s3.objects, bucket+"/hashHandler.zip")
	s.Equal(1, s.sts.calls)
	s.Contains(s.cfn.bodies["e2e-a"], "HandlerLambda:")

	for _, dir := range fs.dirs {
		s.NoDirExists(dir, "assembly must be removed after deploy")
	}

	payload, err := inf.InvokeHandler(context.Background(), "Handler", []byte("{}"))
	s.Require().NoError(err)
	s.Equal(`"first lambda"`, string(payload))

	s.Require().NoError(inf.Delete(context.Background()))
	s.Require().NoError(inf.Delete(context.Background()))
	s.Equal(1, s.cfn.deletes)

	_, err = inf.Status(context.Background())
	var nf *errs.NotFoundError
	s.True(errors.As(err, &nf), "nothing reachable after delete")
}

func (s *InfraSuite) TestDeploy_SecondRunUploadsNothing() {
	first, _ := s.newInfra("e2e-first")
	_, err := first.Deploy(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(first.Delete(context.Background()))

	second, _ := s.newInfra("e2e-second")
	_, err = second.Deploy(context.Background())
	s.Require().NoError(err)
	s.Zero(second.Uploaded())
	s.Equal(2, s.s3.puts)
}

func (s *InfraSuite) TestDeploy_Once() {
	inf, _ := s.newInfra("e2e-once")
	_, err := inf.Deploy(context.Background())
	s.Require().NoError(err)
	_, err = inf.Deploy(context.Background())
	s.ErrorIs(err, infra.ErrAlreadyDeployed)

	s.Require().NoError(inf.Delete(context.Background()))
	fresh, _ := s.newInfra("e2e-deleted")
	s.Require().NoError(fresh.Delete(context.Background()))
	_, err = fresh.Deploy(context.Background())
	s.ErrorIs(err, infra.ErrDeleted)
}

func (s *InfraSuite) TestDeploy_FailedStack() {
	s.cfn.final = cfntypes.StackStatusCreateFailed
	inf, _ := s.newInfra("e2e-fail")

	_, err := inf.Deploy(context.Background())
	var failed *errs.DeploymentFailedError
	s.True(errors.As(err, &failed))
}

func (s *InfraSuite) TestDeploy_MissingHandlersDir() {
	s.handlers = filepath.Join(s.T().TempDir(), "absent")
	inf, _ := s.newInfra("e2e-missing")
	_, err := inf.Deploy(context.Background())
	var nf *errs.NotFoundError
	s.True(errors.As(err, &nf))
}

func (s *InfraSuite) TestSession_DeletesAfterFailure() {
	s.cfn.createErr = errors.New("AlreadyExistsException")
	inf, _ := s.newInfra("e2e-session-fail")

	called := false
	err := infra.Session(context.Background(), inf, func(context.Context, infra.Outputs) error {
		called = true
		return nil
	})
	s.ErrorContains(err, "AlreadyExistsException")
	s.False(called)
	s.Equal(1, s.cfn.deletes)
}

func (s *InfraSuite) TestSession_CombinesErrors() {
	inf, _ := s.newInfra("e2e-session")
	err := infra.Session(context.Background(), inf, func(ctx context.Context, outputs infra.Outputs) error {
		s.Contains(outputs, "HandlerArn")
		return errors.New("assertion failed")
	})
	s.ErrorContains(err, "assertion failed")
	s.Equal(1, s.cfn.deletes)
}

func (s *InfraSuite) TestRunInvocations() {
	inf, _ := s.newInfra("e2e-run")
	_, err := inf.Deploy(context.Background())
	s.Require().NoError(err)

	rows, err := inf.RunInvocations(context.Background(), []config.Invocation{
		{Handler: "Handler", Expect: `"first lambda"`},
		{Handler: "Handler2", Expect: `"first lambda"`},
		{Handler: "Handler9"},
	})
	s.Require().Len(rows, 3)
	s.Empty(rows[0].Error)
	s.Equal(`"first lambda"`, rows[0].Payload)
	s.Contains(rows[1].Error, "unexpected payload")
	s.ErrorIs(err, infra.ErrUnexpectedPayload)
	s.ErrorIs(err, infra.ErrUnknownHandler)

	report, err := inf.Report(rows)
	s.Require().NoError(err)
	s.Contains(report, "# Lambda e2e report: e2e-run")
	s.Contains(report, "| Handler9 | - | error: unknown handler: Handler9 |")
}

func (s *InfraSuite) TestDeploy_NoHandlers() {
	inf, err := infra.New(infra.Clients{S3: s.s3, CloudFormation: s.cfn, Lambda: s.lambda}, synth.New(s.logger), infra.Options{
		StackName:   "e2e-empty",
		HandlersDir: s.T().TempDir(),
		Region:      region,
		Account:     account,
		Policy:      wait.Policy{Interval: time.Millisecond, MaxAttempts: 5},
		Logger:      s.logger,
	})
	s.Require().NoError(err)

	outputs, err := inf.Deploy(context.Background())
	s.Require().NoError(err)
	s.Empty(outputs)
	s.Empty(inf.Handlers())
	s.Zero(inf.Uploaded())
	s.Zero(s.s3.puts)
	s.Contains(s.cfn.bodies["e2e-empty"], template.TypeWaitConditionHandle)
	s.NotContains(s.cfn.bodies["e2e-empty"], template.TypeFunction)

	s.Require().NoError(inf.Delete(context.Background()))
	_, err = inf.Status(context.Background())
	var nf *errs.NotFoundError
	s.True(errors.As(err, &nf))
}

func (s *InfraSuite) TestDeploy_EmptyTemplateRejected() {
	_, err := s.cfn.CreateStack(context.Background(), &cloudformation.CreateStackInput{
		StackName:    aws.String("e2e-bare"),
		TemplateBody: aws.String("Description: lambda e2e handlers\n"),
	})
	s.ErrorContains(err, "At least one Resources member")
}

func (s *InfraSuite) TestDelete_NotBlockedByDeploy() {
	s.cfn.gate = make(chan struct{})
	s.cfn.created = make(chan string, 1)
	inf, _ := s.newInfra("e2e-concurrent")

	deployErr := make(chan error, 1)
	go func() {
		_, err := inf.Deploy(context.Background())
		deployErr <- err
	}()
	s.Equal("e2e-concurrent", <-s.cfn.created)

	deleted := make(chan error, 1)
	go func() { deleted <- inf.Delete(context.Background()) }()
	select {
	case err := <-deleted:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		close(s.cfn.gate)
		s.FailNow("Delete waited for Deploy to finish polling")
	}
	s.Equal(1, s.cfn.deletes)

	close(s.cfn.gate)
	var nf *errs.NotFoundError
	s.True(errors.As(<-deployErr, &nf), "the stack is gone once Deploy polls again")
}

func (s *InfraSuite) TestFunctionARN_BeforeDeploy() {
	inf, _ := s.newInfra("e2e-early")
	_, err := inf.FunctionARN("Handler")
	s.ErrorIs(err, infra.ErrNotDeployed)
}

func TestNew_Validation(t *testing.T) {
	clients := infra.Clients{S3: &memS3{}, CloudFormation: newFakeCFN(), Lambda: &fakeLambda{}}
	fs := &fakeSynth{t: t}

	_, err := infra.New(clients, fs, infra.Options{HandlersDir: "h", Region: region, Account: account})
	assert.ErrorContains(t, err, "invalid infrastructure options")

	_, err = infra.New(clients, fs, infra.Options{StackName: "s", HandlersDir: "h", Region: region})
	assert.ErrorContains(t, err, "STS client")

	_, err = infra.New(infra.Clients{}, fs, infra.Options{StackName: "s", HandlersDir: "h", Region: region, Account: account})
	assert.Error(t, err)

	_, err = infra.New(clients, fs, infra.Options{StackName: "s", HandlersDir: "h", Region: region, Account: account})
	assert.NoError(t, err)
}

func TestUniqueStackName(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

	a := infra.UniqueStackName("utils e2e_")
	b := infra.UniqueStackName("utils e2e_")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, valid, a)
	assert.Regexp(t, `^utils-e2e-[0-9a-f]{12}$`, a)
	assert.Regexp(t, `^e2e-[0-9a-f]{12}$`, infra.UniqueStackName(""))
}

func TestOutputs_FunctionARN(t *testing.T) {
	out := infra.Outputs{"HandlerArn": "arn:1"}
	arn, ok := out.FunctionARN(catalog.Handler{Path: "handler.go", Name: "Handler"})
	assert.True(t, ok)
	assert.Equal(t, "arn:1", arn)
	_, ok = out.FunctionARN(catalog.Handler{Path: "other.go", Name: "Other"})
	assert.False(t, ok)
}
