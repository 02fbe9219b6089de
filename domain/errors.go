package domain

import "errors"

// ErrAlreadyExists is returned by storage when a uniqueness constraint
// rejects a write. Callers treat it as an idempotent success.
var ErrAlreadyExists = errors.New("already exists")
