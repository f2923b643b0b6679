package repository

import "errors"

// ErrNotFound indicates the requested record does not exist. For challenges,
// absence doubles as the "consumed" signal.
var ErrNotFound = errors.New("repository: not found")
