package stand

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is wrapped by every ConfigurationError.
	ErrInvalidConfiguration = errors.New("invalid stand configuration")

	// ErrUnknownIdentity is logged when an observed image has no template.
	ErrUnknownIdentity = errors.New("unknown image identity")

	// ErrStaleCallback is returned by MediaReady for tickets the controller no longer owns.
	ErrStaleCallback = errors.New("stale media callback")

	// ErrNotConfigured is logged when observations arrive before Configure.
	ErrNotConfigured = errors.New("controller not configured")
)

// ConfigurationError describes a structural problem in a stand configuration.
type ConfigurationError struct {
	Identity ImageIdentity
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s: %q: %s", ErrInvalidConfiguration, e.Identity, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfiguration.
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}
