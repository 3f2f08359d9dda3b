package environment

import (
	"errors"
	"fmt"
)

// ErrNotProvisioned reports that no environment register matches the
// requested application key, instance id, user token and solution id.
var ErrNotProvisioned = errors.New("environment: not provisioned")

// RegistrationError wraps any failure to obtain an environment. Callers
// decide whether to retry.
type RegistrationError struct {
	Op  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("environment %s: %v", e.Op, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
