// Package location parses object identifiers into scheme, bucket, and key.
package location

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned when an identifier names a remote scheme
// but cannot be resolved to a bucket and key.
var ErrUnsupportedScheme = errors.New("location: unsupported scheme")

// Scheme identifies the backend that holds an object.
type Scheme int

const (
	// Local is a path on the local filesystem.
	Local Scheme = iota
	// S3 is an S3-compatible object store.
	S3
	// Azure is Azure Blob Storage (including ADLS Gen2).
	Azure
	// GCS is Google Cloud Storage.
	GCS
)

// String returns the directory name used for the scheme in the cache layout.
func (s Scheme) String() string {
	switch s {
	case S3:
		return "s3"
	case Azure:
		return "azure"
	case GCS:
		return "gcs"
	default:
		return "file"
	}
}

// Remote reports whether the scheme is backed by an object store.
func (s Scheme) Remote() bool {
	return s != Local
}

// schemes maps URL schemes to backends. Anything absent is local.
var schemes = map[string]Scheme{
	"s3":    S3,
	"az":    Azure,
	"adl":   Azure,
	"abfs":  Azure,
	"abfss": Azure,
	"gs":    GCS,
	"gcp":   GCS,
}

// Location is a parsed object identifier.
//
// For Local locations Key holds the filesystem path and Bucket is empty.
// For remote locations Key never starts with a slash.
type Location struct {
	Scheme Scheme
	Bucket string
	Key    string

	raw string
}

// Parse resolves an identifier into a Location. It performs no I/O.
//
// Identifiers with a recognized remote scheme must name both a bucket and a
// key. A "file" URL resolves to its path; every other string is treated as
// a local filesystem path verbatim.
func Parse(id string) (Location, error) {
	u, err := url.Parse(id)
	if err != nil {
		return parseRaw(id)
	}
	if u.Scheme == "" {
		return Location{Scheme: Local, Key: id, raw: id}, nil
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "file" {
		return Location{Scheme: Local, Key: u.Path, raw: id}, nil
	}
	s, ok := schemes[scheme]
	if !ok {
		return Location{Scheme: Local, Key: id, raw: id}, nil
	}

	bucket := u.Host
	if s == Azure && u.User != nil {
		// abfs://container@account.dfs.core.windows.net/key
		bucket = u.User.Username()
	}
	return remote(id, s, bucket, u.Path)
}

// parseRaw resolves identifiers that are not valid URLs, such as keys with
// a bare '%'. A recognized scheme still selects its backend and the key is
// taken verbatim.
func parseRaw(id string) (Location, error) {
	prefix, rest, ok := strings.Cut(id, "://")
	if !ok {
		return Location{Scheme: Local, Key: id, raw: id}, nil
	}

	scheme := strings.ToLower(prefix)
	if scheme == "file" {
		path := rest
		if !strings.HasPrefix(path, "/") {
			_, p, _ := strings.Cut(path, "/")
			path = "/" + p
		}
		return Location{Scheme: Local, Key: path, raw: id}, nil
	}
	s, ok := schemes[scheme]
	if !ok {
		return Location{Scheme: Local, Key: id, raw: id}, nil
	}

	bucket, path, _ := strings.Cut(rest, "/")
	if s == Azure {
		if user, _, found := strings.Cut(bucket, "@"); found {
			bucket = user
		}
	}
	return remote(id, s, bucket, path)
}

func remote(id string, s Scheme, bucket, path string) (Location, error) {
	key := strings.TrimLeft(path, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("%w: %q: missing bucket", ErrUnsupportedScheme, id)
	}
	if key == "" {
		return Location{}, fmt.Errorf("%w: %q: missing object key", ErrUnsupportedScheme, id)
	}
	return Location{Scheme: s, Bucket: bucket, Key: key, raw: id}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level variables.
func MustParse(id string) Location {
	loc, err := Parse(id)
	if err != nil {
		panic(err)
	}
	return loc
}

// String returns the identifier the location was parsed from, or a
// canonical rendering for locations built by hand.
func (l Location) String() string {
	if l.raw != "" {
		return l.raw
	}
	if l.Scheme == Local {
		return l.Key
	}
	return l.Scheme.String() + "://" + l.Bucket + "/" + l.Key
}
