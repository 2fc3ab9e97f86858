package service

import "errors"

// Operation failures. Returned errors wrap one of these with a description.
var (
	ErrAuthentication = errors.New("authentication required")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("invalid input")
)
