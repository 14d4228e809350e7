package secure

import "fmt"

// Error reports a rejection of a secure handshake or wrapped frame: a bad
// MAC, an out-of-order sequence counter, or a session the peer doesn't
// recognise.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("secure: %s", e.Reason)
}
