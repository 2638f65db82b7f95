package obstinate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/meigma/obstinate/cachedir"
	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/engine"
	"github.com/meigma/obstinate/location"
	"github.com/meigma/obstinate/mmap"
	"github.com/meigma/obstinate/store"
)

// StoreFactory builds the store serving loc's bucket. opts is the
// configuration in effect for the client.
type StoreFactory func(ctx context.Context, loc location.Location, opts config.Options) (store.Store, error)

// Client resolves identifiers to local files and mapped views.
//
// A Client is safe for concurrent use. Stores are built on first use per
// scheme and bucket and reused afterwards.
type Client struct {
	dirs       *cachedir.Resolver
	cfg        *config.Options
	newStore   StoreFactory
	logger     *slog.Logger
	engineOpts []engine.Option

	engine *engine.Engine

	mu     sync.Mutex
	stores map[storeKey]*storeEntry
}

// storeEntry is a store being built or ready; done is closed once st or err
// is set.
type storeEntry struct {
	done chan struct{}
	st   store.Store
	err  error
}

type storeKey struct {
	scheme location.Scheme
	bucket string
}

// Info describes a resolved object.
type Info struct {
	// Location is the parsed identifier.
	Location location.Location

	// Path is the local file backing the object.
	Path string

	// Size is the local file size in bytes.
	Size int64

	// ModTime is the local file modification time.
	ModTime time.Time

	// ETag is the cached version token. Empty for local files.
	ETag string

	// Outcome reports whether the content was downloaded or already cached.
	// Zero for local files.
	Outcome engine.Outcome

	// Attempts is the number of reconciliation attempts made.
	Attempts int
}

// NewClient creates a client with the given options.
//
// Without [WithCacheDir] or [WithResolver] the cache lives under
// [os.UserCacheDir]. Nothing is created on disk until a remote object is
// read.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		newStore: DefaultStoreFactory,
		logger:   slog.New(slog.DiscardHandler),
		stores:   make(map[storeKey]*storeEntry),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.dirs == nil {
		dirs, err := cachedir.Default()
		if err != nil {
			return nil, err
		}
		c.dirs = dirs
	}

	eng, err := engine.New(c.dirs, append([]engine.Option{engine.WithLogger(c.logger)}, c.engineOpts...)...)
	if err != nil {
		return nil, err
	}
	c.engine = eng
	return c, nil
}

// CacheRoot returns the directory remote objects are cached under.
func (c *Client) CacheRoot() string {
	return c.dirs.Root()
}

// Open returns a read-only file holding the current content of id.
//
// Local paths are opened directly. Remote objects are resolved through the
// cache. A missing remote object yields (nil, nil). The caller closes the
// file.
func (c *Client) Open(ctx context.Context, id string) (*os.File, error) {
	loc, err := location.Parse(id)
	if err != nil {
		return nil, err
	}
	if !loc.Scheme.Remote() {
		return os.Open(loc.Key)
	}
	res, err := c.fetch(ctx, loc)
	if err != nil || res == nil {
		return nil, err
	}
	return res.File, nil
}

// Map returns a read-only memory-mapped view of id.
//
// A missing remote object yields (nil, nil). Local paths are mapped without
// touching the cache or the network. The caller closes the view.
func (c *Client) Map(ctx context.Context, id string) (*mmap.View, error) {
	loc, err := location.Parse(id)
	if err != nil {
		return nil, err
	}
	if !loc.Scheme.Remote() {
		return mmap.Open(loc.Key)
	}

	res, err := c.fetch(ctx, loc)
	if err != nil || res == nil {
		return nil, err
	}
	defer res.File.Close()

	v, err := mmap.Map(res.File)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", id, err)
	}
	return v, nil
}

// Path returns the local path holding the current content of id. For
// remote objects this is the cached version file. A missing remote object
// yields ("", nil).
//
// The cached file may be evicted by a later read that observes a newer
// version; use Open or Map to hold on to the content.
func (c *Client) Path(ctx context.Context, id string) (string, error) {
	loc, err := location.Parse(id)
	if err != nil {
		return "", err
	}
	if !loc.Scheme.Remote() {
		return loc.Key, nil
	}
	res, err := c.fetch(ctx, loc)
	if err != nil || res == nil {
		return "", err
	}
	if err := res.File.Close(); err != nil {
		return "", err
	}
	return res.Path, nil
}

// Stat resolves id and describes the local file backing it. Unlike Open,
// a missing object is an error matching [ErrNotFound].
func (c *Client) Stat(ctx context.Context, id string) (*Info, error) {
	loc, err := location.Parse(id)
	if err != nil {
		return nil, err
	}
	if !loc.Scheme.Remote() {
		fi, err := os.Stat(loc.Key)
		if err != nil {
			return nil, err
		}
		return &Info{Location: loc, Path: loc.Key, Size: fi.Size(), ModTime: fi.ModTime()}, nil
	}

	st, err := c.store(ctx, loc)
	if err != nil {
		return nil, err
	}
	res, err := c.engine.Fetch(ctx, st, loc)
	if err != nil {
		return nil, err
	}
	defer res.File.Close()

	fi, err := res.File.Stat()
	if err != nil {
		return nil, err
	}
	return &Info{
		Location: loc,
		Path:     res.Path,
		Size:     fi.Size(),
		ModTime:  fi.ModTime(),
		ETag:     res.ETag,
		Outcome:  res.Outcome,
		Attempts: res.Attempts,
	}, nil
}

// Close releases stores the client built. The client must not be used
// afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for k, ent := range c.stores {
		delete(c.stores, k)
		select {
		case <-ent.done:
		default:
			continue
		}
		if closer, ok := ent.st.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// fetch runs the engine for loc and converts not found into a nil result.
func (c *Client) fetch(ctx context.Context, loc location.Location) (*engine.Result, error) {
	st, err := c.store(ctx, loc)
	if err != nil {
		return nil, err
	}
	res, err := c.engine.Fetch(ctx, st, loc)
	if err != nil {
		if store.IsNotFound(err) {
			c.logger.DebugContext(ctx, "object not found",
				slog.String("location", loc.String()))
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// store returns the cached store for loc's bucket, building it on first use.
func (c *Client) store(ctx context.Context, loc location.Location) (store.Store, error) {
	key := storeKey{scheme: loc.Scheme, bucket: loc.Bucket}

	c.mu.Lock()
	ent, ok := c.stores[key]
	if !ok {
		ent = &storeEntry{done: make(chan struct{})}
		c.stores[key] = ent
	}
	c.mu.Unlock()

	if ok {
		select {
		case <-ent.done:
			return ent.st, ent.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Built outside the lock: credential discovery may block, and other
	// buckets must not wait behind it.
	st, err := c.newStore(ctx, loc, c.options())
	if err != nil {
		err = fmt.Errorf("obstinate: %s store for %s: %w", loc.Scheme, loc.Bucket, err)
		c.mu.Lock()
		if c.stores[key] == ent {
			delete(c.stores, key)
		}
		c.mu.Unlock()
	}
	ent.st, ent.err = st, err
	close(ent.done)
	return st, err
}

// options returns the client's configuration, or the process default.
func (c *Client) options() config.Options {
	if c.cfg != nil {
		return *c.cfg
	}
	opts, _ := config.Default()
	return opts
}
