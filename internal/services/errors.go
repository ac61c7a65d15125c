// Package services defines the business logic for contact management. This
// file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer.
package services

import "errors"

var (
	// ErrContactNotFound indicates that the requested contact does not exist.
	ErrContactNotFound = errors.New("contact not found")

	// ErrEmailTaken is returned when a create or update would give a contact
	// an email address that is already registered to another contact.
	ErrEmailTaken = errors.New("email already registered")

	// ErrEmptyName is returned when a create or update supplies a blank name.
	ErrEmptyName = errors.New("name is empty")

	// ErrEmptyEmail is returned when a create or update supplies a blank email.
	ErrEmptyEmail = errors.New("email is empty")
)
