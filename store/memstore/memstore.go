// Package memstore provides an in-memory, versioned [store.Store].
//
// It is intended for tests: it counts calls, can omit version tokens, and
// can run a hook between a metadata probe and the following read to
// simulate an object changing under a reader.
package memstore

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigma/obstinate/store"
)

type object struct {
	data     []byte
	etag     string
	modified time.Time
}

// Store is an in-memory object store. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	seq     int
	noETag  bool

	beforeGet func(key string)

	heads atomic.Int64
	gets  atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithoutETags makes Head report no version token, as some stores do.
func WithoutETags() Option {
	return func(s *Store) {
		s.noETag = true
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{objects: make(map[string]object)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores data under key with an explicit version token.
func (s *Store) Put(key, etag string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data:     bytes.Clone(data),
		etag:     etag,
		modified: time.Now(),
	}
}

// PutAuto stores data under key with a generated version token and returns it.
func (s *Store) PutAuto(key string, data []byte) string {
	s.mu.Lock()
	s.seq++
	etag := "v" + strconv.Itoa(s.seq)
	s.mu.Unlock()
	s.Put(key, etag, data)
	return etag
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// SetBeforeGet installs a hook run at the start of every GetConditional and
// Get call, before the version check. Pass nil to remove it.
func (s *Store) SetBeforeGet(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeGet = fn
}

// Heads returns the number of Head calls served.
func (s *Store) Heads() int64 { return s.heads.Load() }

// Gets returns the number of content reads (conditional or not) served.
func (s *Store) Gets() int64 { return s.gets.Load() }

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (store.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return store.Metadata{}, err
	}
	s.heads.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return store.Metadata{}, &store.NotFoundError{Key: key}
	}
	md := store.Metadata{
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
	}
	if !s.noETag {
		md.ETag = obj.etag
	}
	return md, nil
}

// GetConditional implements store.Store.
func (s *Store) GetConditional(ctx context.Context, key, etag string) (io.ReadCloser, error) {
	return s.get(ctx, key, etag, true)
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, key, "", false)
}

func (s *Store) get(ctx context.Context, key, etag string, conditional bool) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.gets.Add(1)

	s.mu.RLock()
	hook := s.beforeGet
	s.mu.RUnlock()
	if hook != nil {
		hook(key)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, &store.NotFoundError{Key: key}
	}
	if conditional && obj.etag != etag {
		return nil, &store.PreconditionError{Key: key, ETag: etag}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

var _ store.Store = (*Store)(nil)
