package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
	"github.com/trufnetwork/lambda-e2e/lib/template"
)

// ObjectStore is the subset of the S3 client the packager uses.
type ObjectStore interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Packager zips staged assets and uploads the ones the bucket does not have yet.
type Packager struct {
	store   ObjectStore
	account string
	region  string
	l       *zap.Logger
}

func New(store ObjectStore, account, region string, logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{store: store, account: account, region: region, l: logger.Named("packager")}
}

// AssetDir is where the cloud assembly stages the bundle uploaded under key.
func AssetDir(assetRoot, key string) string {
	return filepath.Join(assetRoot, "asset."+strings.TrimSuffix(key, path.Ext(key)))
}

// Upload packages every asset of t found below assetRoot. An object already
// stored under the target key is assumed to hold the same content and is
// skipped. The first failure aborts the run; nothing uploaded so far is undone.
func (p *Packager) Upload(ctx context.Context, t *template.Template, assetRoot string) (int, error) {
	uploaded := 0
	for _, rec := range FindAssets(t, p.account, p.region) {
		exists, err := p.exists(ctx, rec)
		if err != nil {
			return uploaded, err
		}
		if exists {
			p.l.Info("object exists, skipping", zap.String("bucket", rec.Bucket), zap.String("key", rec.Key))
			continue
		}
		if err := p.put(ctx, rec, AssetDir(assetRoot, rec.Key)); err != nil {
			return uploaded, err
		}
		uploaded++
	}
	return uploaded, nil
}

func (p *Packager) exists(ctx context.Context, rec AssetRecord) (bool, error) {
	_, err := p.store.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(rec.Bucket),
		Key:    aws.String(rec.Key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, &errs.UploadError{Bucket: rec.Bucket, Key: rec.Key, Err: fmt.Errorf("existence check: %w", err)}
}

func (p *Packager) put(ctx context.Context, rec AssetRecord, dir string) error {
	tmp, err := os.CreateTemp("", "asset-*.zip")
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	files, err := Archive(dir, tmp)
	if err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding archive: %w", err)
	}

	p.l.Info("uploading asset",
		zap.String("bucket", rec.Bucket),
		zap.String("key", rec.Key),
		zap.Int("files", files),
		zap.Int64("bytes", size),
	)
	_, err = p.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(rec.Bucket),
		Key:           aws.String(rec.Key),
		Body:          tmp,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return &errs.UploadError{Bucket: rec.Bucket, Key: rec.Key, Err: err}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
