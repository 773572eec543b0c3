package ocifetch

import (
	"errors"
	"fmt"
	"net/http"

	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

// Sentinel errors for fetch operations.
var (
	// ErrNotFound is returned when the reference or a blob does not exist.
	ErrNotFound = errors.New("ocifetch: not found")

	// ErrInvalidReference is returned when a reference string is malformed.
	ErrInvalidReference = errors.New("ocifetch: invalid reference")

	// ErrNoArchiveLayer is returned when the manifest carries no usable archive layer.
	ErrNoArchiveLayer = errors.New("ocifetch: no archive layer")

	// ErrDigestMismatch is returned when fetched content does not match its digest.
	ErrDigestMismatch = errors.New("ocifetch: digest mismatch")

	// ErrUnauthorized is returned when registry authentication fails.
	ErrUnauthorized = errors.New("ocifetch: unauthorized")

	// ErrForbidden is returned when registry access is denied.
	ErrForbidden = errors.New("ocifetch: forbidden")
)

// mapError translates low-level ORAS errors to package sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	// ORAS wraps HTTP errors, check for specific status codes
	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		switch errResp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	return err
}
