package core

import "errors"

var (
	// ErrValidation marks a rejected edit: missing URLs, headers, names or values.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidFormat marks an import body that is not a configuration file.
	ErrInvalidFormat = errors.New("Invalid configuration file format")
	// ErrNotFound is returned when a website or rule ID does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned by the rule table when an added directive ID is still installed.
	ErrDuplicateID = errors.New("directive ID already installed")
)
