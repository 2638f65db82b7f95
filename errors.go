package obstinate

import (
	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/engine"
	"github.com/meigma/obstinate/location"
	"github.com/meigma/obstinate/mmap"
	"github.com/meigma/obstinate/store"
)

// Errors re-exported from location and config.
var (
	// ErrUnsupportedScheme is returned when an identifier names a remote
	// scheme without a bucket or key.
	ErrUnsupportedScheme = location.ErrUnsupportedScheme

	// ErrMissingConfiguration is returned when a remote identifier needs
	// provider options that were never supplied.
	ErrMissingConfiguration = config.ErrMissingConfiguration

	// ErrUnknownConfigurationKey is returned when a configuration key is not
	// recognised for its provider.
	ErrUnknownConfigurationKey = config.ErrUnknownKey
)

// Errors re-exported from store and engine.
var (
	// ErrNotFound matches errors for objects that do not exist. Open, Map and
	// Path report absence as a nil result instead; Stat returns it.
	ErrNotFound = store.ErrNotFound

	// ErrRetryExhausted is returned when the object kept changing for every
	// download attempt.
	ErrRetryExhausted = engine.ErrRetryExhausted
)

// Errors re-exported from mmap.
var (
	// ErrMapping is returned when the operating system refuses a mapping.
	ErrMapping = mmap.ErrMapping

	// ErrEmpty is returned when mapping a zero-length file.
	ErrEmpty = mmap.ErrEmpty
)
