// Package layer builds the shared Lambda layer attached to every handler. The
// layer content is a plain directory; its files appear under /opt at run time.
package layer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3assets"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/lib/cdklogger"
	"github.com/trufnetwork/lambda-e2e/lib/errs"
	"github.com/trufnetwork/lambda-e2e/scripts/renderer"
)

const dockerImage = "alpine:3.20"

var ErrEmptyLayer = errors.New("layer directory holds no files")

// Props configure a layer.
type Props struct {
	// Dir is the layer content root.
	Dir string
	// Files limits the layer to these paths relative to Dir. Empty takes every file.
	Files       []string
	Description string
	Logger      *zap.Logger
}

// New declares a LayerVersion whose content is copied from props.Dir.
func New(scope constructs.Construct, id string, props Props) (awslambda.LayerVersion, error) {
	logger := props.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("layer").With(zap.String("layerID", id))

	files, err := collect(props.Dir, props.Files)
	if err != nil {
		return nil, err
	}
	hash, err := hashFiles(props.Dir, files)
	if err != nil {
		return nil, err
	}

	script, err := renderer.Render(renderer.TplLayerBundle, renderer.LayerBundleData{
		InputDir:  "/asset-input",
		OutputDir: "/asset-output",
		Files:     props.Files,
	})
	if err != nil {
		return nil, fmt.Errorf("render layer bundle script: %w", err)
	}

	code := awslambda.Code_FromAsset(jsii.String(props.Dir), &awss3assets.AssetOptions{
		Bundling: &awscdk.BundlingOptions{
			Image:   awscdk.DockerImage_FromRegistry(jsii.String(dockerImage)),
			Local:   &copyBundler{dir: props.Dir, files: files, l: logger, scope: scope, id: id},
			Command: jsii.Strings("/bin/sh", "-c", script),
		},
		AssetHashType: awscdk.AssetHashType_CUSTOM,
		AssetHash:     jsii.String(hash),
	})

	description := props.Description
	if description == "" {
		description = "shared handler layer"
	}
	layer := awslambda.NewLayerVersion(scope, jsii.String(id), &awslambda.LayerVersionProps{
		Code:               code,
		CompatibleRuntimes: &[]awslambda.Runtime{awslambda.Runtime_PROVIDED_AL2023()},
		Description:        jsii.String(description),
		RemovalPolicy:      awscdk.RemovalPolicy_DESTROY,
	})

	logger.Debug("layer declared", zap.String("dir", props.Dir), zap.Int("files", len(files)), zap.String("hash", hash))
	return layer, nil
}

// collect returns the slash-separated relative paths of the layer files in
// lexical order.
func collect(dir string, only []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.NotFoundError{What: "layer directory", Path: dir, Err: err}
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("layer path %s is not a directory", dir)
	}

	var files []string
	if len(only) > 0 {
		for _, rel := range only {
			if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
				return nil, &errs.NotFoundError{What: "layer file", Path: rel, Err: err}
			}
			files = append(files, filepath.ToSlash(rel))
		}
		sort.Strings(files)
	} else {
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyLayer, dir)
	}
	return files, nil
}

func hashFiles(dir string, files []string) (string, error) {
	h := sha256.New()
	for _, rel := range files {
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", rel)
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyBundler implements ILocalBundling by copying the layer files.
type copyBundler struct {
	dir   string
	files []string
	l     *zap.Logger
	scope constructs.Construct
	id    string
}

var _ awscdk.ILocalBundling = &copyBundler{}

func (b *copyBundler) TryBundle(outputDir *string, _ *awscdk.BundlingOptions) *bool {
	for _, rel := range b.files {
		if err := copyFile(filepath.Join(b.dir, filepath.FromSlash(rel)), filepath.Join(*outputDir, filepath.FromSlash(rel))); err != nil {
			b.l.Error("copying layer file failed", zap.String("file", rel), zap.Error(err))
			cdklogger.LogWarning(b.scope, b.id, "local layer copy failed for %s, falling back to Docker: %s", rel, err.Error())
			return jsii.Bool(false)
		}
	}
	b.l.Info("layer bundled", zap.Int("files", len(b.files)))
	return jsii.Bool(true)
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
