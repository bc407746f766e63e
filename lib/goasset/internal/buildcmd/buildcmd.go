package buildcmd

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// DefaultPlatform is the GOOS/GOARCH pair of the Lambda execution environment.
const DefaultPlatform = "linux/amd64"

// Options configure how a handler is compiled into a Lambda bootstrap binary.
type Options struct {
	// SrcPath is the handler source file, or a directory holding a main package.
	SrcPath string
	// OutName is the executable name inside the asset; "bootstrap" for provided runtimes.
	OutName string
	// Platform is the target GOOS/GOARCH.
	Platform string
	// Tags are passed as -tags.
	Tags []string
	// BuildFlags are extra flags for `go build`.
	BuildFlags []string
	// ExtraEnv defines additional environment variables for the build.
	ExtraEnv []string
	// GoProxy sets GOPROXY for the build.
	GoProxy string
}

// SplitPlatform parses "GOOS/GOARCH".
func SplitPlatform(platform string) (goos, goarch string, err error) {
	goos, goarch, ok := strings.Cut(platform, "/")
	if !ok || goos == "" || goarch == "" {
		return "", "", fmt.Errorf("invalid target platform format '%s', expected 'GOOS/GOARCH'", platform)
	}
	return goos, goarch, nil
}

// Build constructs the `go build` command that writes the binary to outputPath.
// A single file is built on its own, so several handler mains can share one
// directory.
func Build(opt Options, outputPath string, srcInfo os.FileInfo) (*exec.Cmd, error) {
	platform := opt.Platform
	if platform == "" {
		platform = DefaultPlatform
	}
	goos, goarch, err := SplitPlatform(platform)
	if err != nil {
		return nil, err
	}

	args := []string{"build", "-trimpath"}
	if !sliceContainsPrefix(opt.BuildFlags, "-buildvcs=") {
		args = append(args, "-buildvcs=false")
	}
	if len(opt.Tags) > 0 {
		args = append(args, "-tags", strings.Join(opt.Tags, ","))
	}
	args = append(args, opt.BuildFlags...)
	args = append(args, "-o", outputPath)

	workDir := opt.SrcPath
	if srcInfo.IsDir() {
		args = append(args, ".")
	} else {
		workDir = filepath.Dir(opt.SrcPath)
		args = append(args, filepath.Base(opt.SrcPath))
	}

	env := os.Environ()
	env = append(env, "GOOS="+goos, "GOARCH="+goarch)
	if !sliceContains(opt.ExtraEnv, "CGO_ENABLED=1") {
		env = append(env, "CGO_ENABLED=0")
	}
	if opt.GoProxy != "" {
		env = append(env, "GOPROXY="+opt.GoProxy)
	}
	env = append(env, opt.ExtraEnv...)

	cmd := exec.Command("go", args...)
	cmd.Env = FilterEnv(env)
	cmd.Dir = workDir
	return cmd, nil
}

// Container paths used by CDK Docker bundling.
const (
	ContainerInput  = "/asset-input"
	ContainerOutput = "/asset-output"
)

// ModuleRoot returns the nearest directory at or above dir that holds a go.mod.
func ModuleRoot(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// DockerInput picks the directory mounted as the container input: the module
// root when the source sits in a module, so imports resolve through its go.mod,
// else the source directory. workDir is slash separated and relative to input.
func DockerInput(srcPath string, srcInfo os.FileInfo) (input, workDir, entry string) {
	dir, entry := srcPath, "."
	if !srcInfo.IsDir() {
		dir, entry = filepath.Dir(srcPath), filepath.Base(srcPath)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	root, ok := ModuleRoot(dir)
	if !ok {
		return dir, ".", entry
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return dir, ".", entry
	}
	return root, filepath.ToSlash(rel), entry
}

// DockerCommand is the shell command that builds entry inside the container.
func DockerCommand(opt Options, workDir, entry string) []string {
	args := []string{"go", "build", "-trimpath"}
	if !sliceContainsPrefix(opt.BuildFlags, "-buildvcs=") {
		args = append(args, "-buildvcs=false")
	}
	if len(opt.Tags) > 0 {
		args = append(args, "-tags", strings.Join(opt.Tags, ","))
	}
	args = append(args, opt.BuildFlags...)
	args = append(args, "-o", path.Join(ContainerOutput, opt.OutName), entry)

	script := fmt.Sprintf("cd %s && %s", path.Join(ContainerInput, workDir), strings.Join(args, " "))
	return []string{"/bin/sh", "-c", script}
}

// FilterEnv removes duplicate environment variables, keeping the last value
// and the position of the first occurrence.
func FilterEnv(env []string) []string {
	values := make(map[string]string, len(env))
	order := make([]string, 0, len(env))
	for _, pair := range env {
		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = value
	}
	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, key+"="+values[key])
	}
	return out
}

func sliceContains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func sliceContainsPrefix(slice []string, prefix string) bool {
	for _, s := range slice {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
