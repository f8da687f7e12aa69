package session

import "errors"

var (
    // ErrSessionNotOpen is returned by Submit on a session that is no
    // longer open. Nothing is allocated or registered in that case.
    ErrSessionNotOpen = errors.New("session not open")

    // ErrSessionClosed resolves every request still pending when Close
    // is called.
    ErrSessionClosed = errors.New("session closed")
)

// ProtocolError is a stage-level fault the remote side announces with a
// text frame. It carries no correlation id, so it poisons every request
// pending on the session when it arrives.
type ProtocolError struct {
    Message string
}

func (e *ProtocolError) Error() string { return "stage error: " + e.Message }
