// Package gcs implements [store.Store] for Google Cloud Storage.
//
// GCS conditional reads are keyed on object generations rather than ETags,
// so the version token reported by Head is the decimal generation number.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/store"
)

// Config holds Google Cloud Storage connection settings.
type Config struct {
	// Bucket is the bucket name. Required.
	Bucket string

	// ServiceAccountPath is a path to a service account JSON key file.
	ServiceAccountPath string

	// ServiceAccountKey is the content of a service account JSON key.
	ServiceAccountKey string

	// Endpoint overrides the storage API endpoint, for example a local
	// fake-gcs-server at http://localhost:4443/storage/v1/.
	Endpoint string

	// Anonymous disables authentication.
	Anonymous bool

	// Client is an optional pre-configured client. When set, the connection
	// fields above are ignored.
	Client *storage.Client
}

// ConfigFrom converts GCP provider options into a Config for bucket.
func ConfigFrom(bucket string, ps config.Pairs) (Config, error) {
	anonymous, err := ps.Bool(config.GCPAnonymous)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Bucket:             bucket,
		ServiceAccountPath: ps.Value(config.GCPServiceAccountPath),
		ServiceAccountKey:  ps.Value(config.GCPServiceAccountKey),
		Endpoint:           ps.Value(config.GCPEndpoint),
		Anonymous:          anonymous,
	}, nil
}

// Store reads objects from one GCS bucket.
type Store struct {
	bucket *storage.BucketHandle

	// owned is the client New created, closed by Close.
	owned *storage.Client
}

// New creates a Store from cfg. Without explicit credentials the client
// uses Application Default Credentials.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	if cfg.Client != nil {
		return &Store{bucket: cfg.Client.Bucket(cfg.Bucket)}, nil
	}

	var opts []option.ClientOption
	switch {
	case cfg.Anonymous:
		opts = append(opts, option.WithoutAuthentication())
	case cfg.ServiceAccountKey != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountKey)))
	case cfg.ServiceAccountPath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountPath))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &Store{bucket: client.Bucket(cfg.Bucket), owned: client}, nil
}

// Close releases the client created by New. A client passed in Config is
// left open.
func (s *Store) Close() error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close()
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (store.Metadata, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return store.Metadata{}, translate(key, "", err)
	}
	return store.Metadata{
		ETag:         strconv.FormatInt(attrs.Generation, 10),
		Size:         attrs.Size,
		LastModified: attrs.Updated,
	}, nil
}

// GetConditional implements store.Store.
func (s *Store) GetConditional(ctx context.Context, key, etag string) (io.ReadCloser, error) {
	gen, err := strconv.ParseInt(etag, 10, 64)
	if err != nil || gen <= 0 {
		return nil, fmt.Errorf("gcs: %s: invalid generation %q", key, etag)
	}
	r, err := s.bucket.Object(key).If(storage.Conditions{GenerationMatch: gen}).NewReader(ctx)
	if err != nil {
		return nil, translate(key, etag, err)
	}
	return r, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, translate(key, "", err)
	}
	return r, nil
}

func translate(key, etag string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &store.NotFoundError{Key: key, Err: err}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return &store.NotFoundError{Key: key, Err: err}
		case http.StatusPreconditionFailed:
			return &store.PreconditionError{Key: key, ETag: etag, Err: err}
		}
	}
	return fmt.Errorf("gcs: %s: %w", key, err)
}

var _ store.Store = (*Store)(nil)
