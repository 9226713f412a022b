package oracle

import (
	"errors"
	"fmt"
)

// Oracle names used in errors, logs and metrics.
const (
	Identity    = "identity"
	Entitlement = "entitlement"
	Redactor    = "redactor"
	Classifier  = "classifier"
)

// Error reports that an external oracle could not answer.
// Status is the HTTP status when the oracle replied with one, 0 otherwise.
type Error struct {
	Oracle string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s oracle unavailable (status %d): %v", e.Oracle, e.Status, e.Err)
	}
	return fmt.Sprintf("%s oracle unavailable: %v", e.Oracle, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Unavailable wraps err as an oracle failure. Already-wrapped errors pass through.
func Unavailable(name string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	return &Error{Oracle: name, Err: err}
}

// Which returns the failing oracle name when err is an oracle failure.
func Which(err error) (string, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Oracle, true
	}
	return "", false
}
