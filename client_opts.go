package obstinate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/obstinate/cachedir"
	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/engine"
	"github.com/meigma/obstinate/location"
	"github.com/meigma/obstinate/store"
)

// Option configures a Client.
type Option func(*Client) error

// --- Cache Options ---

// WithCacheDir caches remote objects under dir instead of the per-user
// cache directory. The directory is created lazily.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		dirs, err := cachedir.New(dir)
		if err != nil {
			return err
		}
		c.dirs = dirs
		return nil
	}
}

// WithResolver sets the cache path resolver directly.
func WithResolver(r *cachedir.Resolver) Option {
	return func(c *Client) error {
		if r == nil {
			return errors.New("obstinate: resolver is nil")
		}
		c.dirs = r
		return nil
	}
}

// --- Store Options ---

// WithConfig sets the provider configuration, overriding the process-wide
// default from [config.SetDefault].
func WithConfig(opts config.Options) Option {
	return func(c *Client) error {
		c.cfg = &opts
		return nil
	}
}

// WithConfigFile loads provider configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(c *Client) error {
		opts, err := config.Load(path)
		if err != nil {
			return err
		}
		c.cfg = &opts
		return nil
	}
}

// WithStoreFactory replaces how stores are built for remote locations.
func WithStoreFactory(f StoreFactory) Option {
	return func(c *Client) error {
		if f == nil {
			return errors.New("obstinate: store factory is nil")
		}
		c.newStore = f
		return nil
	}
}

// WithStore serves every remote location from st, ignoring the scheme and
// bucket. Useful with S3-compatible services and in tests.
func WithStore(st store.Store) Option {
	return WithStoreFactory(func(context.Context, location.Location, config.Options) (store.Store, error) {
		return st, nil
	})
}

// --- Engine Options ---

// WithMaxAttempts bounds reconciliation attempts per read. Defaults to
// [engine.DefaultMaxAttempts].
func WithMaxAttempts(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("obstinate: max attempts must be positive")
		}
		c.engineOpts = append(c.engineOpts, engine.WithMaxAttempts(n))
		return nil
	}
}

// WithBackoff sets the delay policy between reconciliation attempts. A nil
// factory retries immediately.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(c *Client) error {
		c.engineOpts = append(c.engineOpts, engine.WithBackoff(newBackoff))
		return nil
	}
}

// --- Observability Options ---

// WithLogger sets the logger used by the client and its engine.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithTracerProvider sets the tracer provider for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) error {
		c.engineOpts = append(c.engineOpts, engine.WithTracerProvider(tp))
		return nil
	}
}

// WithMeterProvider sets the meter provider for fetch counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) error {
		c.engineOpts = append(c.engineOpts, engine.WithMeterProvider(mp))
		return nil
	}
}
