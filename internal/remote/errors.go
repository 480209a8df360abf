package remote

import "errors"

// Error taxonomy for gateway operations. The sync engine branches on
// these with errors.Is; everything else is treated as a network failure.
var (
	// ErrVersionConflict means a conditional write was rejected because
	// the stored version advanced past the predicate. Recoverable: the
	// engine resolves it through the merge path.
	ErrVersionConflict = errors.New("remote: version conflict")

	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("remote: not found")

	// ErrUnauthorized means the session is missing, expired, or not
	// allowed to touch the addressed rows.
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrNetwork means the request never produced a usable response.
	ErrNetwork = errors.New("remote: network failure")
)
