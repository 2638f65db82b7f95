package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/store"
)

// fakeS3 serves a single bucket with path-style addressing. It implements
// just enough of the S3 API for HEAD and conditional GET.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
}

type fakeObject struct {
	etag string
	data string
}

func (f *fakeS3) put(key, etag, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{etag: etag, data: data}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + f.bucket + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, r, http.StatusNotFound, "NoSuchBucket")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, prefix)

	f.mu.Lock()
	obj, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		writeError(w, r, http.StatusNotFound, "NoSuchKey")
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && strings.Trim(match, `"`) != obj.etag {
		writeError(w, r, http.StatusPreconditionFailed, "PreconditionFailed")
		return
	}

	w.Header().Set("ETag", `"`+obj.etag+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.Header().Set("Last-Modified", time.Unix(0, 0).UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = io.WriteString(w, obj.data)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><Resource>%s</Resource><RequestId>1</RequestId></Error>`,
		code, code, r.URL.Path)
}

func newFakeStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()

	fake := &fakeS3{bucket: "bucket-a", objects: make(map[string]fakeObject)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	s, err := New(Config{
		Bucket:          "bucket-a",
		Endpoint:        server.URL,
		Region:          "us-east-1",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		AllowHTTP:       true,
	})
	require.NoError(t, err)
	return s, fake
}

func TestStoreHeadAndConditionalGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, fake := newFakeStore(t)
	fake.put("data.csv", "v1", "x,y\n1,2\n")

	md, err := s.Head(ctx, "data.csv")
	require.NoError(t, err)
	assert.Equal(t, "v1", md.ETag)
	assert.EqualValues(t, 8, md.Size)

	rc, err := s.GetConditional(ctx, "data.csv", md.ETag)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "x,y\n1,2\n", string(data))

	fake.put("data.csv", "v2", "x,y\n3,4\n")
	_, err = s.GetConditional(ctx, "data.csv", md.ETag)
	assert.True(t, store.IsPreconditionFailed(err), "err = %v", err)

	rc, err = s.Get(ctx, "data.csv")
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "x,y\n3,4\n", string(data))
}

func TestStoreNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFakeStore(t)

	_, err := s.Head(ctx, "missing")
	assert.True(t, store.IsNotFound(err), "Head err = %v", err)

	_, err = s.GetConditional(ctx, "missing", "v1")
	assert.True(t, store.IsNotFound(err), "GetConditional err = %v", err)
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	cfg, err := ConfigFrom("bucket", config.Pairs{
		{Key: config.AWSAccessKeyID, Value: "id"},
		{Key: config.AWSSecretAccessKey, Value: "secret"},
		{Key: config.AWSRegion, Value: "us-east-1"},
		{Key: config.AWSEndpoint, Value: "http://localhost:9000"},
		{Key: config.AWSAllowHTTP, Value: "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, Config{
		Bucket:          "bucket",
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
		AllowHTTP:       true,
	}, cfg)

	_, err = ConfigFrom("bucket", config.Pairs{{Key: config.AWSAllowHTTP, Value: "perhaps"}})
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err, "missing bucket")

	_, err = New(Config{Bucket: "b", Endpoint: "http://localhost:9000"})
	assert.ErrorContains(t, err, "allow_http")

	_, err = New(Config{Bucket: "b", Endpoint: "ftp://localhost"})
	assert.Error(t, err)
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		host   string
		secure bool
	}{
		{"", defaultEndpoint, true},
		{"minio.local:9000", "minio.local:9000", true},
		{"http://localhost:9000", "localhost:9000", false},
		{"https://s3.eu-west-1.amazonaws.com/", "s3.eu-west-1.amazonaws.com", true},
	}
	for _, tt := range tests {
		host, secure, err := parseEndpoint(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
		assert.Equal(t, tt.secure, secure, tt.in)
	}

	_, _, err := parseEndpoint("https://host/prefix")
	assert.Error(t, err)
}
