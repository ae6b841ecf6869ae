package services

import "errors"

var (
	// ErrInvalidInput is returned for requests that fail field validation
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInactive is returned by Login for a correct password on a deactivated account
	ErrInactive = errors.New("account is not active")

	// ErrRegistrationClosed is returned by Register when self-registration is disabled
	ErrRegistrationClosed = errors.New("self-registration is disabled")
)
