package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotEditable  = errors.New("message cannot be edited")
	ErrNoInstance   = errors.New("no whatsapp instance configured")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// VendorError is an application error reported by W-API
type VendorError struct {
	Status  int
	Message string
}

func (e *VendorError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("w-api error (status %d)", e.Status)
	}
	return fmt.Sprintf("w-api error (status %d): %s", e.Status, e.Message)
}

// IsVendorError reports whether err came from the vendor rather than the network
func IsVendorError(err error) bool {
	var ve *VendorError
	return errors.As(err, &ve)
}
