package cachekit

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError is returned at construction when required settings are
// missing or malformed. It is never retried.
type ConfigurationError struct {
	Component string
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid configuration: %s: %v", e.Component, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: invalid configuration: %s", e.Component, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionExhaustedError is returned when a backend could not connect
// within its retry budget.
type ConnectionExhaustedError struct {
	Addr     string
	Attempts int
	Last     error
}

func (e *ConnectionExhaustedError) Error() string {
	return fmt.Sprintf("connect %s: gave up after %d attempts: %v", e.Addr, e.Attempts, e.Last)
}

func (e *ConnectionExhaustedError) Unwrap() error { return e.Last }

// TagInvalidateError reports member keys that could not be deleted while
// invalidating a tag. The tag set is kept so a retry still finds them.
type TagInvalidateError struct {
	Tag    string
	Failed map[string]error
}

func (e *TagInvalidateError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	return fmt.Sprintf("invalidate tag %q: %d key(s) not deleted: %s",
		e.Tag, len(e.Failed), strings.Join(keys, ", "))
}

func (e *TagInvalidateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// IsConfigurationError reports whether err carries a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
