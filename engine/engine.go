// Package engine reconciles remote objects with a local, content-addressed
// cache.
//
// Each cached object owns a directory (see package cachedir). Versions are
// published inside it as content_<etag>; in-flight downloads are staged as
// temp_<id> and atomically renamed into place. Published files are never
// modified, only unlinked when superseded, so readers holding a descriptor
// or mapping of an older version are unaffected by a newer download.
//
// A fetch is a bounded loop of attempts. Each attempt probes the object's
// metadata, serves the cached version if present, evicts stale versions,
// and downloads with a read conditioned on the probed version. If the
// object changes between the probe and the read, the attempt is retried.
// No locks are taken: concurrent fetches of the same version write the same
// destination name and the rename makes whichever finishes last win with
// identical content.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/obstinate/cachedir"
	"github.com/meigma/obstinate/location"
	"github.com/meigma/obstinate/store"
)

// DefaultMaxAttempts bounds the number of reconciliation attempts per fetch.
const DefaultMaxAttempts = 10

const instrumentationName = "github.com/meigma/obstinate/engine"

// ErrRetryExhausted is returned when every attempt observed the remote
// object changing between the metadata probe and the read.
var ErrRetryExhausted = errors.New("engine: retry attempts exhausted")

// Outcome is the result of a single attempt.
type Outcome int

const (
	// Downloaded means the content was fetched and published.
	Downloaded Outcome = iota + 1
	// Cached means the current version was already present locally.
	Cached
	// Retry means the object changed mid-attempt.
	Retry
	// NotFound means the object does not exist remotely.
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Cached:
		return "cached"
	case Retry:
		return "retry"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Result describes a resolved local copy of a remote object.
type Result struct {
	// File is open for reading on the published version. The caller owns it.
	File *os.File

	// Path is the published file's path.
	Path string

	// ETag is the version token the content corresponds to ("default" when
	// the store reported none).
	ETag string

	// Outcome is Downloaded or Cached.
	Outcome Outcome

	// Attempts is the number of attempts made, including the final one.
	Attempts int
}

// Error records the operation and location that failed.
type Error struct {
	Op       string
	Location string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("obstinate: %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type options struct {
	maxAttempts    int
	newBackoff     func() backoff.BackOff
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*options)

// WithMaxAttempts sets the attempt budget per fetch. Values < 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay policy between retried attempts. The factory
// is called once per fetch. A nil factory retries immediately.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(o *options) {
		o.newBackoff = newBackoff
	}
}

// WithLogger sets the logger. Defaults to discarding output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// DefaultBackoff returns the jittered exponential delay policy used between
// attempts unless WithBackoff overrides it.
func DefaultBackoff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
	}
	b.Reset()
	return b
}

// Engine fetches remote objects into the local cache. It is safe for
// concurrent use, including by multiple processes sharing a cache root.
type Engine struct {
	dirs        *cachedir.Resolver
	maxAttempts int
	newBackoff  func() backoff.BackOff
	logger      *slog.Logger
	tracer      trace.Tracer
	outcomes    metric.Int64Counter
}

// New creates an Engine that caches under dirs.
func New(dirs *cachedir.Resolver, opts ...Option) (*Engine, error) {
	if dirs == nil {
		return nil, errors.New("engine: cache directory resolver is nil")
	}
	o := options{
		maxAttempts:    DefaultMaxAttempts,
		newBackoff:     DefaultBackoff,
		logger:         slog.New(slog.DiscardHandler),
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	outcomes, err := o.meterProvider.Meter(instrumentationName).Int64Counter(
		"obstinate.fetch.outcomes",
		metric.WithDescription("Completed fetches by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: create counter: %w", err)
	}

	return &Engine{
		dirs:        dirs,
		maxAttempts: o.maxAttempts,
		newBackoff:  o.newBackoff,
		logger:      o.logger,
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		outcomes:    outcomes,
	}, nil
}

// Fetch resolves loc to an open local file holding a complete, consistent
// version of the remote object.
//
// A missing object is reported as an error matching store.ErrNotFound.
// Version changes observed mid-fetch are retried up to the attempt budget,
// after which ErrRetryExhausted is returned. Fetch never returns partially
// written or stale content.
func (e *Engine) Fetch(ctx context.Context, st store.Store, loc location.Location) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "obstinate.fetch",
		trace.WithAttributes(
			attribute.String("obstinate.location", loc.String()),
			attribute.String("obstinate.scheme", loc.Scheme.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer func() {
		e.finish(ctx, span, res, err)
	}()

	if !loc.Scheme.Remote() {
		return nil, &Error{Op: "fetch", Location: loc.String(), Err: cachedir.ErrLocalLocation}
	}
	dir, err := e.dirs.Dir(loc)
	if err != nil {
		return nil, &Error{Op: "fetch", Location: loc.String(), Err: err}
	}

	var bo backoff.BackOff
	if e.newBackoff != nil {
		bo = e.newBackoff()
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.logger.DebugContext(ctx, "fetch attempt",
			slog.String("location", loc.String()),
			slog.Int("attempt", attempt))

		a := e.attempt(ctx, st, loc, dir)
		switch a.outcome {
		case Downloaded, Cached:
			a.result.Attempts = attempt
			return a.result, nil
		case NotFound:
			return nil, &Error{Op: "fetch", Location: loc.String(), Err: a.err}
		case Retry:
			e.logger.DebugContext(ctx, "object changed during fetch, retrying",
				slog.String("location", loc.String()),
				slog.Int("attempt", attempt))
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("obstinate.attempt", attempt)))
		default:
			return nil, &Error{Op: a.op, Location: loc.String(), Err: a.err}
		}

		if attempt == e.maxAttempts {
			break
		}
		if err := wait(ctx, bo); err != nil {
			return nil, &Error{Op: "fetch", Location: loc.String(), Err: err}
		}
	}
	return nil, &Error{
		Op:       "fetch",
		Location: loc.String(),
		Err:      fmt.Errorf("%w after %d attempts", ErrRetryExhausted, e.maxAttempts),
	}
}

func (e *Engine) finish(ctx context.Context, span trace.Span, res *Result, err error) {
	outcome := "error"
	switch {
	case err == nil && res != nil:
		outcome = res.Outcome.String()
		span.SetAttributes(
			attribute.String("obstinate.outcome", outcome),
			attribute.String("obstinate.etag", res.ETag),
			attribute.Int("obstinate.attempts", res.Attempts),
		)
		span.SetStatus(codes.Ok, "")
	case store.IsNotFound(err):
		outcome = NotFound.String()
		span.SetAttributes(attribute.String("obstinate.outcome", outcome))
	case errors.Is(err, ErrRetryExhausted):
		outcome = "retry_exhausted"
		fallthrough
	default:
		span.SetAttributes(attribute.String("obstinate.outcome", outcome))
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	span.End()
}

// wait sleeps for the next backoff interval or until ctx is done.
func wait(ctx context.Context, bo backoff.BackOff) error {
	if bo == nil {
		return ctx.Err()
	}
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return ErrRetryExhausted
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
