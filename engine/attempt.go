package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/meigma/obstinate/location"
	"github.com/meigma/obstinate/store"
)

const (
	contentPrefix = "content_"
	tempPrefix    = "temp_"

	// defaultETag names the cached version when the store has no token.
	defaultETag = "default"

	filePerm = 0o600
)

// attemptResult is the typed outcome of one pass through the state machine.
// err and op are set only for NotFound and fatal outcomes.
type attemptResult struct {
	outcome Outcome
	result  *Result
	op      string
	err     error
}

func fatal(op string, err error) attemptResult {
	return attemptResult{op: op, err: err}
}

// attempt runs HeadProbe, CacheCheck, Eviction, and ConditionalFetch in
// order.
func (e *Engine) attempt(ctx context.Context, st store.Store, loc location.Location, dir string) attemptResult {
	// HeadProbe
	md, err := st.Head(ctx, loc.Key)
	if err != nil {
		if store.IsNotFound(err) {
			return attemptResult{outcome: NotFound, err: err}
		}
		return fatal("head", err)
	}
	etag := md.ETag
	if etag == "" {
		etag = defaultETag
	}
	name := VersionName(etag)
	path := filepath.Join(dir, name)

	// CacheCheck
	f, err := openCached(path)
	if err != nil {
		return fatal("open cached", err)
	}
	if f != nil {
		e.logger.DebugContext(ctx, "serving cached version",
			slog.String("path", path))
		return attemptResult{
			outcome: Cached,
			result:  &Result{File: f, Path: path, ETag: etag, Outcome: Cached},
		}
	}

	// Eviction
	e.evict(ctx, dir, name)

	// ConditionalFetch
	var body io.ReadCloser
	if md.ETag == "" {
		body, err = st.Get(ctx, loc.Key)
	} else {
		body, err = st.GetConditional(ctx, loc.Key, md.ETag)
	}
	switch {
	case err == nil:
	case store.IsPreconditionFailed(err):
		return attemptResult{outcome: Retry}
	case store.IsNotFound(err):
		return attemptResult{outcome: NotFound, err: err}
	default:
		return fatal("get", err)
	}

	if err := stage(dir, path, body); err != nil {
		return fatal("stage", err)
	}
	e.logger.DebugContext(ctx, "published version",
		slog.String("path", path),
		slog.String("etag", etag))

	f, err = os.Open(path) //nolint:gosec // path is derived from the cache layout
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A concurrent fetch observed a newer version and evicted ours.
			return attemptResult{outcome: Retry}
		}
		return fatal("open published", err)
	}
	return attemptResult{
		outcome: Downloaded,
		result:  &Result{File: f, Path: path, ETag: etag, Outcome: Downloaded},
	}
}

// openCached opens the published version at path. It returns a nil file
// when nothing is published there; a directory of the same name belongs to
// a nested key and is not a version.
func openCached(path string) (*os.File, error) {
	f, err := os.Open(path) //nolint:gosec // path is derived from the cache layout
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil
	}
	return f, nil
}

// stage streams body into a uniquely named temporary file in dir, syncs
// it, and renames it to dest. The temporary file is removed on failure.
func stage(dir, dest string, body io.ReadCloser) (err error) {
	defer body.Close()

	tmpPath := filepath.Join(dir, tempPrefix+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm) //nolint:gosec // path is derived from the cache layout
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, body); err != nil {
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err = os.Rename(tmpPath, dest); err != nil {
		return err
	}
	return nil
}

// evict removes every published version in dir other than keep. Failures
// are logged and otherwise ignored.
func (e *Engine) evict(ctx context.Context, dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.logger.WarnContext(ctx, "list cache directory",
			slog.String("dir", dir),
			slog.Any("error", err))
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == keep || !strings.HasPrefix(name, contentPrefix) || !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			e.logger.WarnContext(ctx, "evict stale version",
				slog.String("path", path),
				slog.Any("error", err))
			continue
		}
		e.logger.DebugContext(ctx, "evicted stale version",
			slog.String("path", path))
	}
}

// VersionName returns the cache file name for a version token. Characters
// that cannot appear in a file name are replaced so distinct tokens map to
// distinct names in practice; surrounding quotes are dropped.
func VersionName(etag string) string {
	etag = strings.Trim(etag, `"`)
	if etag == "" {
		etag = defaultETag
	}
	return contentPrefix + strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, etag)
}
