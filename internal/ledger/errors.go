package ledger

import "errors"

// ErrNotFound indicates the requested job id is unknown. It surfaces to
// clients as a 404-equivalent.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition indicates a lifecycle invariant would be violated:
// the job is already terminal, or the requested status/stage/progress would
// move backward. It signals a bug in the caller, never bad user input.
var ErrInvalidTransition = errors.New("invalid job transition")
