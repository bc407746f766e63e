package goasset

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3assets"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/lib/cdklogger"
	"github.com/trufnetwork/lambda-e2e/lib/goasset/internal/buildcmd"
)

// Options are the build settings of a handler asset.
type Options = buildcmd.Options

// BootstrapName is the executable a provided.al2023 runtime starts.
const BootstrapName = "bootstrap"

// DockerImage is used when no local Go toolchain is available. It matches the
// toolchain line of go.mod so the container does not download another one.
const DockerImage = "golang:1.24-alpine"

// dockerExcludes keep bulky or unrelated trees out of the staged module root.
var dockerExcludes = []string{".git", "_examples", "cdk.out*", "**/cdk.out-*"}

var (
	ErrSrcMissing  = errors.New("SrcPath is required")
	ErrSrcNotExist = errors.New("SrcPath does not exist")
)

func validate(o Options) (os.FileInfo, error) {
	if o.SrcPath == "" {
		return nil, ErrSrcMissing
	}
	srcInfo, err := os.Stat(o.SrcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrSrcNotExist, o.SrcPath)
		}
		return nil, fmt.Errorf("failed to stat SrcPath '%s': %w", o.SrcPath, err)
	}
	return srcInfo, nil
}

func withDefaults(opt Options) Options {
	if opt.OutName == "" {
		opt.OutName = BootstrapName
	}
	if opt.Platform == "" {
		opt.Platform = buildcmd.DefaultPlatform
	}
	if opt.GoProxy == "" {
		opt.GoProxy = os.Getenv("GOPROXY")
	}
	return opt
}

// Code returns Lambda code built from a Go handler. The binary is compiled
// when the app is synthesized; the asset hash covers the toolchain, the build
// settings and the handler source, so an unchanged handler keeps its key.
func Code(scope constructs.Construct, id string, opt Options, logger *zap.Logger) (awslambda.AssetCode, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("goasset").With(zap.String("assetID", id))

	srcInfo, err := validate(opt)
	if err != nil {
		return nil, err
	}
	opt = withDefaults(opt)
	if _, _, err := buildcmd.SplitPlatform(opt.Platform); err != nil {
		return nil, err
	}

	hash, err := Hash(opt)
	if err != nil {
		return nil, err
	}

	input, workDir, entry := buildcmd.DockerInput(opt.SrcPath, srcInfo)

	bundler := &GoBundler{
		opt:     opt,
		l:       logger,
		srcInfo: srcInfo,
		scope:   scope,
		assetID: id,
	}

	goos, goarch, _ := buildcmd.SplitPlatform(opt.Platform)
	environment := map[string]*string{
		"GOOS":        jsii.String(goos),
		"GOARCH":      jsii.String(goarch),
		"CGO_ENABLED": jsii.String("0"),
	}
	if opt.GoProxy != "" {
		environment["GOPROXY"] = jsii.String(opt.GoProxy)
	}
	code := awslambda.Code_FromAsset(jsii.String(input), &awss3assets.AssetOptions{
		Bundling: &awscdk.BundlingOptions{
			Image:       awscdk.DockerImage_FromRegistry(jsii.String(DockerImage)),
			Local:       bundler,
			Command:     jsii.Strings(buildcmd.DockerCommand(opt, workDir, entry)...),
			Environment: &environment,
		},
		Exclude:       jsii.Strings(dockerExcludes...),
		AssetHashType: awscdk.AssetHashType_CUSTOM,
		AssetHash:     jsii.String(hash),
	})

	logger.Debug("handler asset declared",
		zap.String("src", opt.SrcPath),
		zap.String("input", input),
		zap.String("workDir", workDir),
		zap.String("hash", hash),
	)
	return code, nil
}

// Hash computes the custom asset hash for opt.
func Hash(opt Options) (string, error) {
	srcInfo, err := validate(opt)
	if err != nil {
		return "", err
	}
	opt = withDefaults(opt)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", goVersion(), opt.Platform, opt.OutName)

	sortedBuildFlags := append([]string{}, opt.BuildFlags...)
	sort.Strings(sortedBuildFlags)
	sortedExtraEnv := append([]string{}, opt.ExtraEnv...)
	sort.Strings(sortedExtraEnv)
	sortedTags := append([]string{}, opt.Tags...)
	sort.Strings(sortedTags)
	fmt.Fprintf(h, "%s|%s|%s|", strings.Join(sortedBuildFlags, ","), strings.Join(sortedExtraEnv, ","), strings.Join(sortedTags, ","))

	files := []string{opt.SrcPath}
	if srcInfo.IsDir() {
		files, err = filepath.Glob(filepath.Join(opt.SrcPath, "*.go"))
		if err != nil {
			return "", err
		}
		sort.Strings(files)
	}
	for _, f := range files {
		if err := hashFile(h, f); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintf(w, "%s\x00", filepath.Base(path))
	_, err = io.Copy(w, f)
	return err
}

// GoBundler implements the ILocalBundling interface.
type GoBundler struct {
	opt     Options
	l       *zap.Logger
	srcInfo os.FileInfo
	scope   constructs.Construct
	assetID string
}

var _ awscdk.ILocalBundling = &GoBundler{}

// TryBundle builds the handler with the local toolchain. Returning false hands
// the build to the Docker image.
func (b *GoBundler) TryBundle(outputDir *string, _ *awscdk.BundlingOptions) *bool {
	if _, err := exec.LookPath("go"); err != nil {
		b.l.Info("go toolchain not found, delegating to Docker bundling", zap.Error(err))
		cdklogger.LogInfo(b.scope, b.assetID, "go toolchain not found on PATH. Delegating to Docker bundling.")
		return jsii.Bool(false)
	}

	outputPath := filepath.Join(*outputDir, b.opt.OutName)
	cmd, err := buildcmd.Build(b.opt, outputPath, b.srcInfo)
	if err != nil {
		b.l.Error("Failed to construct Go build command", zap.Error(err))
		cdklogger.LogError(b.scope, b.assetID, "Failed to construct Go build command. Error: %s", err.Error())
		return jsii.Bool(false)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.l.Debug("Executing Go build command",
		zap.Strings("args", cmd.Args),
		zap.String("cwd", cmd.Dir),
		zap.Strings("env", filterEnvForLogging(cmd.Env)),
	)

	startTime := time.Now()
	err = cmd.Run()
	duration := time.Since(startTime)

	if err != nil {
		b.l.Error("Error running Go build command",
			zap.Error(err),
			zap.String("stdout", stdout.String()),
			zap.String("stderr", stderr.String()),
			zap.String("command", cmd.String()),
		)
		cdklogger.LogError(b.scope, b.assetID, "Go binary build failed. Error: %s. Stderr: %s. Command: %s",
			err.Error(), stderr.String(), cmd.String())
		return jsii.Bool(false)
	}

	if _, statErr := os.Stat(outputPath); statErr != nil {
		b.l.Error("Go build command succeeded but output file is missing", zap.String("expectedPath", outputPath))
		cdklogger.LogError(b.scope, b.assetID, "Go build succeeded but output file missing: %s", outputPath)
		return jsii.Bool(false)
	}

	b.l.Info("handler built", zap.String("src", b.opt.SrcPath), zap.Duration("duration", duration))
	return jsii.Bool(true)
}

// filterEnvForLogging prevents logging credentials.
func filterEnvForLogging(env []string) []string {
	filtered := make([]string, 0, len(env))
	sensitiveKeys := map[string]bool{"AWS_ACCESS_KEY_ID": true, "AWS_SECRET_ACCESS_KEY": true, "AWS_SESSION_TOKEN": true}
	for _, e := range env {
		key, _, ok := strings.Cut(e, "=")
		if ok && sensitiveKeys[key] {
			filtered = append(filtered, key+"=<redacted>")
		} else {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

var goVersion = sync.OnceValue(func() string {
	output, err := exec.Command("go", "version").Output()
	if err != nil {
		return runtime.Version()
	}
	return strings.TrimSpace(string(output))
})
