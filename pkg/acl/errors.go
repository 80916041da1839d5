package acl

import "errors"

var (
	// ErrNotFound is returned when a user or role does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateCredential is returned when creating a user whose
	// username is already taken
	ErrDuplicateCredential = errors.New("duplicate credential")
)
