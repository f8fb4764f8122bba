package atmledger

import (
	"errors"
	"fmt"
)

var (
	ErrInternalServer     = errors.New("internal server error")
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrConflict is returned by an AccountStore when the saved account's
	// version no longer matches the stored one.
	ErrConflict = errors.New("account was modified concurrently")

	// ErrDuplicateNumber is returned by an AccountStore when a new account
	// reuses the number of an existing one.
	ErrDuplicateNumber = errors.New("account number already in use")

	// ErrNoRecord is returned by stores when a lookup matches nothing.
	// The service translates it; it never reaches the HTTP layer.
	ErrNoRecord = errors.New("no record")
)

const (
	msgAccountNotFound     = "Account not found"
	msgInsufficientBalance = "Insufficient balance for this transaction."
)

type ErrBadRequest struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e ErrBadRequest) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type ErrNotFound struct {
	Message string `json:"message"`
}

func (e ErrNotFound) Error() string {
	if e.Message == "" {
		return "record not found"
	}
	return e.Message
}

// isDomainError reports whether err is one of the recoverable request
// errors, as opposed to an infrastructure failure.
func isDomainError(err error) bool {
	return errors.As(err, &ErrBadRequest{}) || errors.As(err, &ErrNotFound{})
}
