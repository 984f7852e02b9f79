package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnauthorized        = errors.New("unauthorized")

	// ErrEncryption signals a broken cipher configuration, not a bad request.
	ErrEncryption = errors.New("encryption failure")

	// ErrCardNotActive is reported as access denied to existing clients.
	ErrCardNotActive = fmt.Errorf("card is not active: %w", ErrAccessDenied)

	// ErrCardExpired rejects any attempt to move a card out of EXPIRED.
	ErrCardExpired = fmt.Errorf("card is expired: %w", ErrAccessDenied)
)
