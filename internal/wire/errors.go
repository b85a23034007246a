package wire

import (
	"github.com/pkg/errors"
)

// ProtocolError reports a frame or packet that does not match the wire format.
// The peer or tracker that sent it should be dropped.
type ProtocolError struct {
	err error
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{err: errors.Errorf(format, args...)}
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.err.Error()
}

func (e *ProtocolError) Cause() error { return e.err }

func (e *ProtocolError) Unwrap() error { return e.err }

// TrackerError carries the message of a UDP tracker error response.
type TrackerError struct {
	Message string
}

func (e *TrackerError) Error() string {
	return "tracker error: " + e.Message
}
