package packager_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
	"github.com/trufnetwork/lambda-e2e/lib/packager"
	"github.com/trufnetwork/lambda-e2e/lib/template"
	"github.com/trufnetwork/lambda-e2e/tests/testutil"
)

// memStore is an in-memory bucket keyed by "bucket/key".
type memStore struct {
	objects map[string][]byte
	puts    int
	putErr  error
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (m *memStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.puts++
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

const assetTemplate = `{
  "Resources": {
    "HandlerLambda": {
      "Type": "AWS::Lambda::Function",
      "Properties": {
        "Code": {
          "S3Bucket": {"Fn::Sub": "cdk-hnb659fds-assets-${AWS::AccountId}-${AWS::Region}"},
          "S3Key": "1111.zip"
        }
      }
    },
    "SharedLayer": {
      "Type": "AWS::Lambda::LayerVersion",
      "Properties": {
        "Content": {
          "S3Bucket": {"Fn::Sub": "cdk-hnb659fds-assets-${AWS::AccountId}-${AWS::Region}"},
          "S3Key": "2222.zip"
        }
      }
    },
    "HandlerLogGroup": {"Type": "AWS::Logs::LogGroup", "Properties": {"RetentionInDays": 1}}
  }
}`

const bucket = "cdk-hnb659fds-assets-123456789012-us-east-1"

func parse(t *testing.T, doc string) *template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(doc))
	require.NoError(t, err)
	return tpl
}

func stageAssets(t *testing.T) string {
	t.Helper()
	root := testutil.TmpDir(t)
	testutil.WriteTree(t, root, map[string]string{
		"asset.1111/bootstrap":        "binary",
		"asset.2222/settings.toml":    "service = \"e2e\"\n",
		"asset.2222/lib/shared/x.txt": "x",
	})
	require.NoError(t, os.Chmod(filepath.Join(root, "asset.1111", "bootstrap"), 0o755))
	return root
}

func zipEntries(t *testing.T, data []byte) map[string]os.FileMode {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]os.FileMode{}
	for _, f := range zr.File {
		out[f.Name] = f.Mode()
	}
	return out
}

func TestFindAssets(t *testing.T) {
	got := packager.FindAssets(parse(t, assetTemplate), "123456789012", "us-east-1")
	assert.Equal(t, []packager.AssetRecord{
		{Key: "1111.zip", Bucket: bucket},
		{Key: "2222.zip", Bucket: bucket},
	}, got)
}

func TestFindAssets_PlainBucketAndMissingKey(t *testing.T) {
	tpl := parse(t, `{"Resources": {
		"A": {"Type": "AWS::Lambda::Function", "Properties": {"Code": {"S3Bucket": "plain", "S3Key": "a.zip"}}},
		"B": {"Type": "AWS::Lambda::Function", "Properties": {"Code": {"ZipFile": "inline"}}}
	}}`)
	assert.Equal(t, []packager.AssetRecord{{Key: "a.zip", Bucket: "plain"}}, packager.FindAssets(tpl, "1", "r"))
}

func TestUpload_ArchivesRelativeToAssetDir(t *testing.T) {
	root := stageAssets(t)
	store := newMemStore()

	n, err := packager.New(store, "123456789012", "us-east-1", nil).Upload(context.Background(), parse(t, assetTemplate), root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fn := zipEntries(t, store.objects[bucket+"/1111.zip"])
	assert.Equal(t, []string{"bootstrap"}, keys(fn))
	assert.NotZero(t, fn["bootstrap"]&0o111, "bootstrap must stay executable")

	layer := zipEntries(t, store.objects[bucket+"/2222.zip"])
	assert.Equal(t, []string{"lib/shared/x.txt", "settings.toml"}, keys(layer))
}

func TestUpload_SecondRunIsNoop(t *testing.T) {
	root := stageAssets(t)
	store := newMemStore()
	p := packager.New(store, "123456789012", "us-east-1", nil)
	tpl := parse(t, assetTemplate)

	_, err := p.Upload(context.Background(), tpl, root)
	require.NoError(t, err)

	n, err := p.Upload(context.Background(), tpl, root)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, store.puts)
}

func TestUpload_MissingAssetDir(t *testing.T) {
	_, err := packager.New(newMemStore(), "1", "r", nil).Upload(context.Background(), parse(t, assetTemplate), testutil.TmpDir(t))
	var nf *errs.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestUpload_PutFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("AccessDenied")

	n, err := packager.New(store, "123456789012", "us-east-1", nil).Upload(context.Background(), parse(t, assetTemplate), stageAssets(t))
	var upErr *errs.UploadError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "1111.zip", upErr.Key)
	assert.Zero(t, n)
}

func TestAssetDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/out", "asset.abc"), packager.AssetDir("/out", "abc.zip"))
}

func keys(m map[string]os.FileMode) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
