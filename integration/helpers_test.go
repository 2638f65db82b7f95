//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"

	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/store"
	"github.com/meigma/obstinate/store/azure"
	"github.com/meigma/obstinate/store/gcs"
	"github.com/meigma/obstinate/store/s3"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"

	azuriteAccount = "devstoreaccount1"
	azuriteKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

	gcsProject = "obstinate-test"
)

// backend is one object store under test. Each test uses its own bucket.
type backend struct {
	// scheme is the identifier scheme, for example "s3".
	scheme string

	// options configures DefaultStoreFactory for this backend.
	options config.Options

	// newBucket creates an empty bucket and returns its name.
	newBucket func(tb testing.TB) string

	// put writes an object, replacing any previous version.
	put func(tb testing.TB, bucket, key string, data []byte)

	// newStore builds the provider store for bucket directly.
	newStore func(tb testing.TB, bucket string) store.Store
}

func skipWithoutDocker(tb testing.TB) {
	tb.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}
	if testing.Short() {
		tb.Skip("skipping integration test in short mode")
	}
}

var bucketSeq atomic.Int64

// bucketName returns a bucket name that is unique within the test binary.
func bucketName(tb testing.TB) string {
	tb.Helper()
	name := strings.ToLower(strings.NewReplacer("/", "-", "_", "-").Replace(tb.Name()))
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	if len(name) > 40 {
		name = name[:40]
	}
	return fmt.Sprintf("%s-%d", strings.Trim(name, "-"), bucketSeq.Add(1))
}

// --- MinIO ---

var (
	minioOnce     sync.Once
	minioEndpoint string
	minioErr      error
)

// getMinio returns the shared MinIO host:port, starting the container if needed.
func getMinio(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	minioOnce.Do(func() {
		ctx := context.Background()
		req := testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		}
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			minioErr = fmt.Errorf("start minio container: %w", err)
			return
		}
		minioEndpoint, minioErr = c.Endpoint(ctx, "")
	})

	if minioErr != nil {
		tb.Fatalf("minio: %v", minioErr)
	}
	return minioEndpoint
}

func minioClient(tb testing.TB) *minio.Client {
	tb.Helper()
	client, err := minio.New(getMinio(tb), &minio.Options{
		Creds:  credentials.NewStaticV4(minioUser, minioPassword, ""),
		Secure: false,
	})
	require.NoError(tb, err, "create minio client")
	return client
}

func minioBackend(tb testing.TB) backend {
	tb.Helper()
	endpoint := "http://" + getMinio(tb)
	return backend{
		scheme: "s3",
		options: config.Options{}.WithAWS(
			config.Pair{Key: config.AWSEndpoint, Value: endpoint},
			config.Pair{Key: config.AWSAllowHTTP, Value: "true"},
			config.Pair{Key: config.AWSRegion, Value: "us-east-1"},
			config.Pair{Key: config.AWSAccessKeyID, Value: minioUser},
			config.Pair{Key: config.AWSSecretAccessKey, Value: minioPassword},
		),
		newBucket: func(tb testing.TB) string {
			tb.Helper()
			name := bucketName(tb)
			err := minioClient(tb).MakeBucket(context.Background(), name, minio.MakeBucketOptions{})
			require.NoError(tb, err, "create bucket %s", name)
			return name
		},
		put: func(tb testing.TB, bucket, key string, data []byte) {
			tb.Helper()
			_, err := minioClient(tb).PutObject(context.Background(), bucket, key,
				bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
			require.NoError(tb, err, "put %s/%s", bucket, key)
		},
		newStore: func(tb testing.TB, bucket string) store.Store {
			tb.Helper()
			st, err := s3.New(s3.Config{
				Bucket:          bucket,
				Endpoint:        endpoint,
				AllowHTTP:       true,
				AccessKeyID:     minioUser,
				SecretAccessKey: minioPassword,
			})
			require.NoError(tb, err, "create s3 store")
			return st
		},
	}
}

// --- Azurite ---

var (
	azuriteOnce     sync.Once
	azuriteEndpoint string
	azuriteErr      error
)

// getAzurite returns the shared Azurite blob service URL including the
// account path, starting the container if needed.
func getAzurite(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	azuriteOnce.Do(func() {
		ctx := context.Background()
		req := testcontainers.ContainerRequest{
			Image:        "mcr.microsoft.com/azure-storage/azurite:latest",
			ExposedPorts: []string{"10000/tcp"},
			Cmd:          []string{"azurite-blob", "--blobHost", "0.0.0.0", "--skipApiVersionCheck", "--loose"},
			WaitingFor:   wait.ForListeningPort("10000/tcp"),
		}
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			azuriteErr = fmt.Errorf("start azurite container: %w", err)
			return
		}
		endpoint, err := c.Endpoint(ctx, "http")
		if err != nil {
			azuriteErr = fmt.Errorf("resolve azurite endpoint: %w", err)
			return
		}
		azuriteEndpoint = endpoint + "/" + azuriteAccount
	})

	if azuriteErr != nil {
		tb.Fatalf("azurite: %v", azuriteErr)
	}
	return azuriteEndpoint
}

func azuriteClient(tb testing.TB) *azblob.Client {
	tb.Helper()
	cred, err := azblob.NewSharedKeyCredential(azuriteAccount, azuriteKey)
	require.NoError(tb, err, "azurite credential")
	client, err := azblob.NewClientWithSharedKeyCredential(getAzurite(tb)+"/", cred, nil)
	require.NoError(tb, err, "create azurite client")
	return client
}

func azuriteBackend(tb testing.TB) backend {
	tb.Helper()
	endpoint := getAzurite(tb)
	return backend{
		scheme: "az",
		options: config.Options{}.WithAzure(
			config.Pair{Key: config.AzureUseEmulator, Value: "true"},
			config.Pair{Key: config.AzureEndpoint, Value: endpoint},
		),
		newBucket: func(tb testing.TB) string {
			tb.Helper()
			name := bucketName(tb)
			_, err := azuriteClient(tb).CreateContainer(context.Background(), name, nil)
			require.NoError(tb, err, "create container %s", name)
			return name
		},
		put: func(tb testing.TB, bucket, key string, data []byte) {
			tb.Helper()
			_, err := azuriteClient(tb).UploadBuffer(context.Background(), bucket, key, data, nil)
			require.NoError(tb, err, "upload %s/%s", bucket, key)
		},
		newStore: func(tb testing.TB, bucket string) store.Store {
			tb.Helper()
			st, err := azure.New(azure.Config{
				Container:   bucket,
				Endpoint:    endpoint,
				UseEmulator: true,
			})
			require.NoError(tb, err, "create azure store")
			return st
		},
	}
}

// --- fake-gcs-server ---

var (
	gcsOnce     sync.Once
	gcsEndpoint string
	gcsErr      error
)

// getFakeGCS returns the shared fake-gcs-server JSON API endpoint, starting
// the container if needed.
func getFakeGCS(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	gcsOnce.Do(func() {
		ctx := context.Background()
		req := testcontainers.ContainerRequest{
			Image:        "fsouza/fake-gcs-server:latest",
			ExposedPorts: []string{"4443/tcp"},
			Cmd:          []string{"-scheme", "http", "-port", "4443", "-backend", "memory"},
			WaitingFor:   wait.ForHTTP("/storage/v1/b").WithPort("4443/tcp"),
		}
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			gcsErr = fmt.Errorf("start fake-gcs-server container: %w", err)
			return
		}
		endpoint, err := c.Endpoint(ctx, "http")
		if err != nil {
			gcsErr = fmt.Errorf("resolve fake-gcs-server endpoint: %w", err)
			return
		}
		gcsEndpoint = endpoint + "/storage/v1/"
	})

	if gcsErr != nil {
		tb.Fatalf("fake-gcs-server: %v", gcsErr)
	}
	return gcsEndpoint
}

func gcsClient(tb testing.TB) *storage.Client {
	tb.Helper()
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(getFakeGCS(tb)),
		option.WithoutAuthentication(),
	)
	require.NoError(tb, err, "create gcs client")
	tb.Cleanup(func() { _ = client.Close() })
	return client
}

func gcsBackend(tb testing.TB) backend {
	tb.Helper()
	endpoint := getFakeGCS(tb)
	return backend{
		scheme: "gs",
		options: config.Options{}.WithGCP(
			config.Pair{Key: config.GCPEndpoint, Value: endpoint},
			config.Pair{Key: config.GCPAnonymous, Value: "true"},
		),
		newBucket: func(tb testing.TB) string {
			tb.Helper()
			name := bucketName(tb)
			err := gcsClient(tb).Bucket(name).Create(context.Background(), gcsProject, nil)
			require.NoError(tb, err, "create bucket %s", name)
			return name
		},
		put: func(tb testing.TB, bucket, key string, data []byte) {
			tb.Helper()
			w := gcsClient(tb).Bucket(bucket).Object(key).NewWriter(context.Background())
			w.ChunkSize = 0
			_, err := w.Write(data)
			require.NoError(tb, err, "write %s/%s", bucket, key)
			require.NoError(tb, w.Close(), "close %s/%s", bucket, key)
		},
		newStore: func(tb testing.TB, bucket string) store.Store {
			tb.Helper()
			st, err := gcs.New(context.Background(), gcs.Config{
				Bucket:    bucket,
				Endpoint:  endpoint,
				Anonymous: true,
			})
			require.NoError(tb, err, "create gcs store")
			tb.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

// racingStore overwrites the object once, right before the first
// conditional read, so the read targets a version that is no longer
// current.
type racingStore struct {
	store.Store
	once      sync.Once
	overwrite func()
}

func (r *racingStore) GetConditional(ctx context.Context, key, etag string) (io.ReadCloser, error) {
	r.once.Do(r.overwrite)
	return r.Store.GetConditional(ctx, key, etag)
}
