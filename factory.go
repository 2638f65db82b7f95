package obstinate

import (
	"context"
	"fmt"

	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/location"
	"github.com/meigma/obstinate/store"
	"github.com/meigma/obstinate/store/azure"
	"github.com/meigma/obstinate/store/gcs"
	"github.com/meigma/obstinate/store/s3"
)

// DefaultStoreFactory builds the provider store for loc's scheme from the
// matching section of opts. It fails with [ErrMissingConfiguration] when
// that section is absent.
func DefaultStoreFactory(ctx context.Context, loc location.Location, opts config.Options) (store.Store, error) {
	p, ok := config.ProviderFor(loc.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, loc.Scheme)
	}
	pairs, err := opts.For(p)
	if err != nil {
		return nil, err
	}

	switch p {
	case config.AWS:
		cfg, err := s3.ConfigFrom(loc.Bucket, pairs)
		if err != nil {
			return nil, err
		}
		return s3.New(cfg)
	case config.Azure:
		cfg, err := azure.ConfigFrom(loc.Bucket, pairs)
		if err != nil {
			return nil, err
		}
		return azure.New(cfg)
	case config.GCP:
		cfg, err := gcs.ConfigFrom(loc.Bucket, pairs)
		if err != nil {
			return nil, err
		}
		return gcs.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, loc.Scheme)
	}
}
