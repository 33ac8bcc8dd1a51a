package payments

import (
	"errors"
	"fmt"
)

// ConfigError means a gateway call could not even be attempted because a
// required setting is absent. Configuration is checked lazily, at call time,
// so the relay can boot in a partially configured sandbox.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Field)
}

// GatewayError wraps a failed call against Daraja: either transport failure or
// a non-2xx response. Body keeps the upstream payload for diagnostics.
type GatewayError struct {
	Op         string // "oauth" or "stkpush"
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("daraja %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("daraja %s: http=%d body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is a missing-configuration failure, as
// opposed to an upstream one.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
