// Package azure implements [store.Store] for Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/store"
)

// Well-known Azurite development storage account.
const (
	emulatorAccount  = "devstoreaccount1"
	emulatorKey      = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	emulatorEndpoint = "http://127.0.0.1:10000/" + emulatorAccount
)

// Config holds Azure Blob Storage connection settings.
type Config struct {
	// Container is the blob container. Required.
	Container string

	// AccountName and AccountKey authenticate with a shared key.
	AccountName string
	AccountKey  string

	// SASToken authenticates with a shared access signature.
	SASToken string

	// ConnectionString takes precedence over every other credential field.
	ConnectionString string

	// Endpoint overrides the service URL, which defaults to
	// https://<account>.blob.core.windows.net/.
	Endpoint string

	// AllowHTTP permits plain-HTTP endpoints.
	AllowHTTP bool

	// UseEmulator targets a local Azurite instance with its default account.
	UseEmulator bool

	// Client is an optional pre-configured container client. When set, the
	// connection fields above are ignored.
	Client *container.Client
}

// ConfigFrom converts Azure provider options into a Config for a container.
func ConfigFrom(containerName string, ps config.Pairs) (Config, error) {
	allowHTTP, err := ps.Bool(config.AzureAllowHTTP)
	if err != nil {
		return Config{}, err
	}
	emulator, err := ps.Bool(config.AzureUseEmulator)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Container:        containerName,
		AccountName:      ps.Value(config.AzureAccountName),
		AccountKey:       ps.Value(config.AzureAccountKey),
		SASToken:         ps.Value(config.AzureSASToken),
		ConnectionString: ps.Value(config.AzureConnectionString),
		Endpoint:         ps.Value(config.AzureEndpoint),
		AllowHTTP:        allowHTTP,
		UseEmulator:      emulator,
	}, nil
}

// Store reads blobs from one Azure container.
type Store struct {
	container *container.Client
}

// New creates a Store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Container == "" {
		return nil, errors.New("azure: container is required")
	}
	if cfg.Client != nil {
		return &Store{container: cfg.Client}, nil
	}
	if cfg.UseEmulator {
		if cfg.AccountName == "" {
			cfg.AccountName = emulatorAccount
			cfg.AccountKey = emulatorKey
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = emulatorEndpoint
		}
		cfg.AllowHTTP = true
	}

	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
		return &Store{container: client.ServiceClient().NewContainerClient(cfg.Container)}, nil
	}

	serviceURL, err := serviceURL(cfg)
	if err != nil {
		return nil, err
	}

	var client *azblob.Client
	switch {
	case cfg.AccountKey != "":
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("azure: shared key: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
	default:
		if cfg.SASToken != "" {
			serviceURL += "?" + strings.TrimPrefix(cfg.SASToken, "?")
		}
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
	}
	return &Store{container: client.ServiceClient().NewContainerClient(cfg.Container)}, nil
}

func serviceURL(cfg Config) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountName == "" {
			return "", errors.New("azure: account_name or endpoint is required")
		}
		endpoint = "https://" + cfg.AccountName + ".blob.core.windows.net/"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !cfg.AllowHTTP {
			return "", fmt.Errorf("azure: endpoint %q uses plain HTTP; set allow_http to permit it", endpoint)
		}
	default:
		return "", fmt.Errorf("azure: invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint, nil
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (store.Metadata, error) {
	props, err := s.container.NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return store.Metadata{}, translate(key, "", err)
	}
	md := store.Metadata{Size: -1}
	if props.ETag != nil {
		md.ETag = string(*props.ETag)
	}
	if props.ContentLength != nil {
		md.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		md.LastModified = *props.LastModified
	}
	return md, nil
}

// GetConditional implements store.Store.
func (s *Store) GetConditional(ctx context.Context, key, etag string) (io.ReadCloser, error) {
	match := azcore.ETag(etag)
	resp, err := s.container.NewBlobClient(key).DownloadStream(ctx, &blob.DownloadStreamOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &match},
		},
	})
	if err != nil {
		return nil, translate(key, etag, err)
	}
	return resp.Body, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.container.NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		return nil, translate(key, "", err)
	}
	return resp.Body, nil
}

func translate(key, etag string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return &store.NotFoundError{Key: key, Err: err}
	}
	if bloberror.HasCode(err, bloberror.ConditionNotMet) {
		return &store.PreconditionError{Key: key, ETag: etag, Err: err}
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return &store.NotFoundError{Key: key, Err: err}
		case http.StatusPreconditionFailed:
			return &store.PreconditionError{Key: key, ETag: etag, Err: err}
		}
	}
	return fmt.Errorf("azure: %s: %w", key, err)
}

var _ store.Store = (*Store)(nil)
