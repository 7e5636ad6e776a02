package models

import "errors"

// ErrValidation wraps every input validation failure.
var ErrValidation = errors.New("validation failed")
