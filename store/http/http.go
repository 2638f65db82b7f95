// Package http implements [store.Store] over a plain HTTP origin.
//
// Keys are resolved relative to a base URL, so a static mirror of a bucket
// (or any server that reports ETags and honours If-Match) can back the
// cache. Servers that reject HEAD are probed with a one-byte range request.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/meigma/obstinate/store"
)

// Store reads objects from an HTTP origin.
type Store struct {
	base    *url.URL
	client  *nethttp.Client
	headers nethttp.Header
}

// Option configures a Store.
type Option func(*Store)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Store) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Store) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// New creates a Store that resolves keys against base. A trailing slash is
// added to base when missing.
func New(base string, opts ...Option) (*Store, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("http: invalid base url %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("http: invalid base url %q: unsupported scheme %q", base, u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	s := &Store{
		base:   u,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s, nil
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (store.Metadata, error) {
	req, err := s.newRequest(ctx, nethttp.MethodHead, key)
	if err != nil {
		return store.Metadata{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return store.Metadata{}, fmt.Errorf("http: head %s: %w", key, err)
	}
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case nethttp.StatusOK:
		return metadata(resp, resp.ContentLength), nil
	case nethttp.StatusNotFound, nethttp.StatusGone:
		return store.Metadata{}, &store.NotFoundError{Key: key, Err: statusError(resp)}
	case nethttp.StatusMethodNotAllowed, nethttp.StatusNotImplemented:
		return s.rangeProbe(ctx, key)
	default:
		return store.Metadata{}, fmt.Errorf("http: head %s: %w", key, statusError(resp))
	}
}

// GetConditional implements store.Store.
func (s *Store) GetConditional(ctx context.Context, key, etag string) (io.ReadCloser, error) {
	return s.get(ctx, key, etag)
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, key, "")
}

func (s *Store) get(ctx context.Context, key, etag string) (io.ReadCloser, error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet, key)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: get %s: %w", key, err)
	}

	if resp.StatusCode == nethttp.StatusOK {
		return resp.Body, nil
	}
	drain(resp)
	switch resp.StatusCode {
	case nethttp.StatusNotFound, nethttp.StatusGone:
		return nil, &store.NotFoundError{Key: key, Err: statusError(resp)}
	case nethttp.StatusPreconditionFailed:
		return nil, &store.PreconditionError{Key: key, ETag: etag, Err: statusError(resp)}
	default:
		return nil, fmt.Errorf("http: get %s: %w", key, statusError(resp))
	}
}

// rangeProbe reads the first byte of key to learn its size and version
// from servers that reject HEAD.
func (s *Store) rangeProbe(ctx context.Context, key string) (store.Metadata, error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet, key)
	if err != nil {
		return store.Metadata{}, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return store.Metadata{}, fmt.Errorf("http: range probe %s: %w", key, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return metadata(resp, resp.ContentLength), nil
	case nethttp.StatusNotFound, nethttp.StatusGone:
		return store.Metadata{}, &store.NotFoundError{Key: key, Err: statusError(resp)}
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// Zero-length objects cannot satisfy a one-byte range.
		return metadata(resp, 0), nil
	default:
		return store.Metadata{}, fmt.Errorf("http: range probe %s: %w", key, statusError(resp))
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return store.Metadata{}, errors.New("http: range probe missing Content-Range")
	}
	size, err := parseContentRange(crange)
	if err != nil {
		return store.Metadata{}, err
	}
	return metadata(resp, size), nil
}

func (s *Store) newRequest(ctx context.Context, method, key string) (*nethttp.Request, error) {
	ref, err := url.Parse(escapeKey(key))
	if err != nil {
		return nil, fmt.Errorf("http: invalid key %q: %w", key, err)
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, s.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

// escapeKey percent-encodes each path segment so keys containing '?', '#'
// or ':' stay within the path.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return "./" + strings.Join(segs, "/")
}

func metadata(resp *nethttp.Response, size int64) store.Metadata {
	md := store.Metadata{
		ETag: strongETag(resp.Header.Get("ETag")),
		Size: size,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := nethttp.ParseTime(lm); err == nil {
			md.LastModified = t.UTC()
		}
	}
	return md
}

// strongETag drops weak validators. If-Match uses strong comparison, so a
// weak tag would never match and every conditional read would fail.
func strongETag(etag string) string {
	if strings.HasPrefix(etag, "W/") {
		return ""
	}
	return etag
}

func statusError(resp *nethttp.Response) error {
	return fmt.Errorf("unexpected status %s", resp.Status)
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	if parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

var _ store.Store = (*Store)(nil)
