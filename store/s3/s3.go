// Package s3 implements [store.Store] for S3 and S3-compatible object stores
// using the MinIO client.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/store"
)

const defaultEndpoint = "s3.amazonaws.com"

// Config holds S3 connection settings.
type Config struct {
	// Bucket is the bucket name. Required.
	Bucket string

	// Endpoint is the server URL, for example "http://localhost:9000".
	// A bare host is treated as HTTPS. Defaults to AWS S3.
	Endpoint string

	// Region is the bucket region. Optional for most endpoints.
	Region string

	// AccessKeyID and SecretAccessKey are static credentials. When both are
	// empty, credentials are read from the AWS environment variables and
	// shared credentials file.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// AllowHTTP permits plain-HTTP endpoints.
	AllowHTTP bool

	// VirtualHostedStyle forces bucket-in-hostname addressing.
	VirtualHostedStyle bool

	// Client is an optional pre-configured MinIO client. When set, the
	// connection fields above are ignored.
	Client *minio.Client
}

// ConfigFrom converts AWS provider options into a Config for bucket.
func ConfigFrom(bucket string, ps config.Pairs) (Config, error) {
	allowHTTP, err := ps.Bool(config.AWSAllowHTTP)
	if err != nil {
		return Config{}, err
	}
	virtual, err := ps.Bool(config.AWSVirtualHostedStyle)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Bucket:             bucket,
		Endpoint:           ps.Value(config.AWSEndpoint),
		Region:             ps.Value(config.AWSRegion),
		AccessKeyID:        ps.Value(config.AWSAccessKeyID),
		SecretAccessKey:    ps.Value(config.AWSSecretAccessKey),
		SessionToken:       ps.Value(config.AWSSessionToken),
		AllowHTTP:          allowHTTP,
		VirtualHostedStyle: virtual,
	}, nil
}

// Store reads objects from one S3 bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New creates a Store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if cfg.Client != nil {
		return &Store{client: cfg.Client, bucket: cfg.Bucket}, nil
	}

	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if !secure && !cfg.AllowHTTP {
		return nil, fmt.Errorf("s3: endpoint %q uses plain HTTP; set allow_http to permit it", cfg.Endpoint)
	}

	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
		})
	}

	lookup := minio.BucketLookupAuto
	if cfg.VirtualHostedStyle {
		lookup = minio.BucketLookupDNS
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        creds,
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (store.Metadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return store.Metadata{}, translate(key, "", err)
	}
	return store.Metadata{
		ETag:         info.ETag,
		Size:         info.Size,
		LastModified: info.LastModified,
	}, nil
}

// GetConditional implements store.Store.
func (s *Store) GetConditional(ctx context.Context, key, etag string) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetMatchETag(etag); err != nil {
		return nil, fmt.Errorf("s3: %s: %w", key, err)
	}
	return s.open(ctx, key, etag, opts)
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.open(ctx, key, "", minio.GetObjectOptions{})
}

func (s *Store) open(ctx context.Context, key, etag string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, translate(key, etag, err)
	}
	// GetObject is lazy; Stat issues the request so precondition and
	// not-found errors surface before any content is handed out.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translate(key, etag, err)
	}
	return obj, nil
}

// translate maps MinIO error responses onto the store sentinels.
func translate(key, etag string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return &store.NotFoundError{Key: key, Err: err}
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed:
		return &store.PreconditionError{Key: key, ETag: etag, Err: err}
	}
	return fmt.Errorf("s3: %s: %w", key, err)
}

// parseEndpoint splits an endpoint into the host MinIO expects and whether
// TLS is used.
func parseEndpoint(endpoint string) (host string, secure bool, err error) {
	if endpoint == "" {
		return defaultEndpoint, true, nil
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("s3: invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		secure = true
	case "http":
		secure = false
	default:
		return "", false, fmt.Errorf("s3: invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("s3: invalid endpoint %q: missing host", endpoint)
	}
	if u.Path != "" && u.Path != "/" {
		return "", false, fmt.Errorf("s3: invalid endpoint %q: paths are not supported", endpoint)
	}
	return u.Host, secure, nil
}

var _ store.Store = (*Store)(nil)
