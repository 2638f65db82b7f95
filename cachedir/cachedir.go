// Package cachedir maps remote object locations to local cache directories.
//
// The layout is <root>/<scheme>/<bucket>/<key>, one directory per logical
// object. Versions of the object live side by side inside that directory.
package cachedir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/obstinate/location"
)

const (
	// DirName is the subdirectory of the user cache directory used by Default.
	DirName = "obstinate"

	defaultDirPerm = 0o700
)

var (
	// ErrLocalLocation is returned when resolving a location that is already local.
	ErrLocalLocation = errors.New("cachedir: location is local")

	// ErrInvalidKey is returned when a key contains segments that would
	// escape the cache directory.
	ErrInvalidKey = errors.New("cachedir: invalid key")
)

// Resolver resolves locations to cache directories under a fixed root.
type Resolver struct {
	root    string
	dirPerm os.FileMode
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(r *Resolver) {
		r.dirPerm = mode
	}
}

// New creates a Resolver rooted at root. The root itself is created lazily.
func New(root string, opts ...Option) (*Resolver, error) {
	if root == "" {
		return nil, errors.New("cachedir: root is empty")
	}
	r := &Resolver{
		root:    filepath.Clean(root),
		dirPerm: defaultDirPerm,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Default creates a Resolver rooted at the per-user cache directory,
// for example ~/.cache/obstinate on Linux.
func Default(opts ...Option) (*Resolver, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("cachedir: resolve user cache dir: %w", err)
	}
	return New(filepath.Join(base, DirName), opts...)
}

// Root returns the cache root.
func (r *Resolver) Root() string {
	return r.root
}

// Path returns the cache directory for loc without touching the filesystem.
func (r *Resolver) Path(loc location.Location) (string, error) {
	if !loc.Scheme.Remote() {
		return "", fmt.Errorf("%w: %s", ErrLocalLocation, loc)
	}
	if err := checkSegment(loc.Bucket); err != nil {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidKey, loc.Bucket)
	}

	parts := []string{r.root, loc.Scheme.String(), loc.Bucket}
	for _, seg := range strings.Split(strings.TrimLeft(loc.Key, "/"), "/") {
		if seg == "" {
			continue
		}
		if err := checkSegment(seg); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, loc.Key)
		}
		parts = append(parts, seg)
	}
	if len(parts) == 3 {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return filepath.Join(parts...), nil
}

// Dir returns the cache directory for loc, creating it if needed.
// Calling Dir repeatedly for the same location is a no-op after the first.
func (r *Resolver) Dir(loc location.Location) (string, error) {
	dir, err := r.Path(loc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, r.dirPerm); err != nil {
		return "", fmt.Errorf("cachedir: create %s: %w", dir, err)
	}
	return dir, nil
}

func checkSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "\\\x00") {
		return ErrInvalidKey
	}
	return nil
}
