// Package config holds object store credentials and connection options.
//
// Options are grouped per provider (AWS, Azure, GCP) as ordered lists of
// typed key/value pairs. Keys are validated when parsed from untyped input
// so typos fail early with [ErrUnknownKey] rather than being ignored.
//
// Options are normally constructed once at startup and passed to the
// client explicitly. For programs that prefer a process-wide value,
// [SetDefault] stores one set of options exactly once; later calls are
// ignored. SetDefault must happen before the first fetch that reads it.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/meigma/obstinate/location"
)

var (
	// ErrUnknownKey is returned when a configuration key is not recognized
	// for its provider.
	ErrUnknownKey = errors.New("config: unknown configuration key")

	// ErrMissingConfiguration is returned when a provider is used without
	// any configuration for it.
	ErrMissingConfiguration = errors.New("config: missing configuration")
)

// Provider identifies a cloud provider option group.
type Provider int

const (
	// AWS covers S3 and S3-compatible stores.
	AWS Provider = iota + 1
	// Azure covers Azure Blob Storage.
	Azure
	// GCP covers Google Cloud Storage.
	GCP
)

func (p Provider) String() string {
	switch p {
	case AWS:
		return "aws"
	case Azure:
		return "azure"
	case GCP:
		return "gcp"
	default:
		return "unknown"
	}
}

// ProviderFor returns the provider that serves a location scheme.
func ProviderFor(s location.Scheme) (Provider, bool) {
	switch s {
	case location.S3:
		return AWS, true
	case location.Azure:
		return Azure, true
	case location.GCS:
		return GCP, true
	default:
		return 0, false
	}
}

// Key is a canonical configuration key name.
type Key string

// AWS keys.
const (
	AWSAccessKeyID        Key = "access_key_id"
	AWSSecretAccessKey    Key = "secret_access_key"
	AWSSessionToken       Key = "session_token"
	AWSRegion             Key = "region"
	AWSEndpoint           Key = "endpoint"
	AWSAllowHTTP          Key = "allow_http"
	AWSVirtualHostedStyle Key = "virtual_hosted_style_request"
)

// Azure keys.
const (
	AzureAccountName      Key = "account_name"
	AzureAccountKey       Key = "account_key"
	AzureSASToken         Key = "sas_token"
	AzureConnectionString Key = "connection_string"
	AzureEndpoint         Key = "endpoint"
	AzureAllowHTTP        Key = "allow_http"
	AzureUseEmulator      Key = "use_emulator"
)

// GCP keys.
const (
	GCPServiceAccountPath Key = "service_account_path"
	GCPServiceAccountKey  Key = "service_account_key"
	GCPEndpoint           Key = "endpoint"
	GCPAnonymous          Key = "anonymous"
)

var knownKeys = map[Provider][]Key{
	AWS:   {AWSAccessKeyID, AWSSecretAccessKey, AWSSessionToken, AWSRegion, AWSEndpoint, AWSAllowHTTP, AWSVirtualHostedStyle},
	Azure: {AzureAccountName, AzureAccountKey, AzureSASToken, AzureConnectionString, AzureEndpoint, AzureAllowHTTP, AzureUseEmulator},
	GCP:   {GCPServiceAccountPath, GCPServiceAccountKey, GCPEndpoint, GCPAnonymous},
}

var prefixes = map[Provider][]string{
	AWS:   {"aws_"},
	Azure: {"azure_storage_", "azure_"},
	GCP:   {"google_", "gcp_"},
}

var aliases = map[Provider]map[string]Key{
	AWS: {
		"default_region": AWSRegion,
		"endpoint_url":   AWSEndpoint,
		"token":          AWSSessionToken,
		"virtual_hosted": AWSVirtualHostedStyle,
	},
	Azure: {
		"access_key": AzureAccountKey,
		"master_key": AzureAccountKey,
		"sas_key":    AzureSASToken,
	},
	GCP: {
		"service_account":         GCPServiceAccountPath,
		"application_credentials": GCPServiceAccountPath,
		"service_account_json":    GCPServiceAccountKey,
	},
}

// ParseKey resolves name to a canonical key for p. Matching is
// case-insensitive and accepts provider-prefixed spellings such as
// "aws_access_key_id" or "AZURE_STORAGE_ACCOUNT_NAME".
func ParseKey(p Provider, name string) (Key, error) {
	known, ok := knownKeys[p]
	if !ok {
		return "", fmt.Errorf("%w: %q for provider %s", ErrUnknownKey, name, p)
	}
	norm := strings.ToLower(strings.TrimSpace(name))
	candidates := []string{norm}
	for _, prefix := range prefixes[p] {
		if rest, found := strings.CutPrefix(norm, prefix); found {
			candidates = append(candidates, rest)
		}
	}
	for _, c := range candidates {
		if slices.Contains(known, Key(c)) {
			return Key(c), nil
		}
		if k, ok := aliases[p][c]; ok {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q for provider %s", ErrUnknownKey, name, p)
}

// Pair is one configuration entry.
type Pair struct {
	Key   Key
	Value string
}

// Pairs is an ordered option list. Later entries override earlier ones.
type Pairs []Pair

// Get returns the last value set for k.
func (ps Pairs) Get(k Key) (string, bool) {
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i].Key == k {
			return ps[i].Value, true
		}
	}
	return "", false
}

// Value returns the value for k or the empty string.
func (ps Pairs) Value(k Key) string {
	v, _ := ps.Get(k)
	return v
}

// Bool parses the value for k as a boolean. Unset keys are false.
func (ps Pairs) Bool(k Key) (bool, error) {
	v, ok := ps.Get(k)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", k, err)
	}
	return b, nil
}

// Options holds per-provider option lists. A nil list means the provider
// was never configured; an empty non-nil list means it was configured with
// defaults only (for example, credentials from the environment).
type Options struct {
	AWS   Pairs
	Azure Pairs
	GCP   Pairs
}

// WithAWS returns a copy of o with the AWS options replaced.
func (o Options) WithAWS(pairs ...Pair) Options {
	o.AWS = append(Pairs{}, pairs...)
	return o
}

// WithAzure returns a copy of o with the Azure options replaced.
func (o Options) WithAzure(pairs ...Pair) Options {
	o.Azure = append(Pairs{}, pairs...)
	return o
}

// WithGCP returns a copy of o with the GCP options replaced.
func (o Options) WithGCP(pairs ...Pair) Options {
	o.GCP = append(Pairs{}, pairs...)
	return o
}

// For returns the options for p, or a MissingError when p is unconfigured.
func (o Options) For(p Provider) (Pairs, error) {
	var ps Pairs
	switch p {
	case AWS:
		ps = o.AWS
	case Azure:
		ps = o.Azure
	case GCP:
		ps = o.GCP
	}
	if ps == nil {
		return nil, &MissingError{Provider: p}
	}
	return ps, nil
}

func (o *Options) set(p Provider, ps Pairs) {
	switch p {
	case AWS:
		o.AWS = ps
	case Azure:
		o.Azure = ps
	case GCP:
		o.GCP = ps
	}
}

func (o Options) clone() Options {
	return Options{
		AWS:   slices.Clone(o.AWS),
		Azure: slices.Clone(o.Azure),
		GCP:   slices.Clone(o.GCP),
	}
}

// ParsePairs validates untyped key/value input for p. Keys are applied in
// sorted order so the result is deterministic.
func ParsePairs(p Provider, values map[string]string) (Pairs, error) {
	names := slices.Sorted(maps.Keys(values))
	ps := make(Pairs, 0, len(names))
	for _, name := range names {
		k, err := ParseKey(p, name)
		if err != nil {
			return nil, err
		}
		ps = append(ps, Pair{Key: k, Value: values[name]})
	}
	return ps, nil
}

// FromUntyped builds Options for the provider that serves id. Local
// identifiers need no configuration and yield empty Options.
func FromUntyped(id string, values map[string]string) (Options, error) {
	loc, err := location.Parse(id)
	if err != nil {
		return Options{}, err
	}
	p, ok := ProviderFor(loc.Scheme)
	if !ok {
		return Options{}, nil
	}
	ps, err := ParsePairs(p, values)
	if err != nil {
		return Options{}, err
	}
	var o Options
	o.set(p, ps)
	return o, nil
}

// MissingError reports a provider that has no configuration.
type MissingError struct {
	Provider Provider
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("configuration %q must be provided in order to use %s urls", e.Provider, e.Provider)
}

// Unwrap returns ErrMissingConfiguration.
func (e *MissingError) Unwrap() error {
	return ErrMissingConfiguration
}

var (
	defaultOnce sync.Once
	defaultSet  atomic.Bool
	defaultOpts Options
)

// SetDefault stores the process-wide options. Only the first call has any
// effect; it reports whether this call was the one that stored o.
func SetDefault(o Options) bool {
	stored := false
	defaultOnce.Do(func() {
		defaultOpts = o.clone()
		defaultSet.Store(true)
		stored = true
	})
	return stored
}

// Default returns the process-wide options and whether they were set.
func Default() (Options, bool) {
	if !defaultSet.Load() {
		return Options{}, false
	}
	return defaultOpts.clone(), true
}
