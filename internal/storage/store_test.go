package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.Save(ctx, "acme/2026-02.csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))

	rc, err := store.Open(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", readAll(t, rc))

	rc, err = store.Open(ctx, "acme/2026-02.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", readAll(t, rc))
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Save(ctx, "../outside.csv", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidURI)
	_, err = store.Open(ctx, "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidURI)
	_, err = store.Open(ctx, "missing.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3StoreRoundTrip(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{}}
	store, err := NewS3StoreWithClient(objects, S3Config{Bucket: "reports", Prefix: "/submissions/"})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.Save(ctx, "acme.xlsx", strings.NewReader("sheet"))
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/submissions/acme.xlsx", uri)
	assert.Contains(t, objects.objects, "reports/submissions/acme.xlsx")

	rc, err := store.Open(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "sheet", readAll(t, rc))

	_, err = store.Open(ctx, "s3://reports/nope.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = store.Open(ctx, "file:///tmp/x.csv")
	assert.ErrorIs(t, err, ErrInvalidURI)

	_, err = NewS3StoreWithClient(objects, S3Config{})
	assert.Error(t, err)
}

func TestRouterDispatchesByScheme(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	remote, err := NewS3StoreWithClient(&fakeObjects{objects: map[string][]byte{}}, S3Config{Bucket: "reports"})
	require.NoError(t, err)
	router := NewRouter(remote, map[string]FileStore{"FILE": local, "s3": remote})
	ctx := context.Background()

	localURI, err := local.Save(ctx, "a.csv", strings.NewReader("local"))
	require.NoError(t, err)
	remoteURI, err := router.Save(ctx, "b.csv", strings.NewReader("remote"))
	require.NoError(t, err)

	rc, err := router.Open(ctx, localURI)
	require.NoError(t, err)
	assert.Equal(t, "local", readAll(t, rc))
	rc, err = router.Open(ctx, remoteURI)
	require.NoError(t, err)
	assert.Equal(t, "remote", readAll(t, rc))

	_, err = router.Open(ctx, "gs://bucket/c.csv")
	assert.ErrorIs(t, err, ErrInvalidURI)
}
