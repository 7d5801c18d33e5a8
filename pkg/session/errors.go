package session

import "errors"

// Sentinel errors whose Error() text is part of the wire contract: the
// command dispatcher surfaces these verbatim inside
// command.failed {error: "..."}.
var (
	ErrNotFound      = errors.New("session not found")
	ErrNotLive       = errors.New("session is not live")
	ErrAlreadyExists = errors.New("session already exists")
)

// ClaimedError reports that a mutation was rejected because another
// controller holds the session.
type ClaimedError struct {
	Label string
}

func (e *ClaimedError) Error() string {
	return "session is claimed by " + e.Label
}
