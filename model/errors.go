package model

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNilSettings   = errors.New("settings must not be nil")
	ErrNilDatabase   = errors.New("database must not be nil")
	ErrNilCollection = errors.New("collection must not be nil")

	// ErrIndexExists is reported when an index declared with the
	// CreateNew behaviour is already present on the collection.
	ErrIndexExists = errors.New("index exists, use the creation behaviour option to keep or replace it")

	ErrUnknownBehaviour = errors.New("index creation behaviour out of range")
	ErrUnknownFieldKind = errors.New("index field kind out of range")
	ErrEmptyIndexName   = errors.New("index name must not be empty")
	ErrNoIndexFields    = errors.New("index must declare at least one field")
)

// ConfigurationError reports settings that cannot be turned into a
// working collection. Callers should treat it as permanent and stop
// initializing the sink.
type ConfigurationError struct {
	Reason string
	Err    error
}

// NewConfigurationError builds a ConfigurationError. The cause may be
// nil.
func NewConfigurationError(cause error, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Reason: fmt.Sprintf(format, args...),
		Err:    cause,
	}
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Reason
	}
	return "configuration: " + e.Reason + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether any error in err's chain is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
