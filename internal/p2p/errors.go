package p2p

import "errors"

// ConnectError reports that no usable peer connection could be obtained.
type ConnectError struct {
	Reason string
}

func (e *ConnectError) Error() string {
	return "connect: " + e.Reason
}

func (e *ConnectError) Code() string { return "CNTCNNCT" }

var (
	// ErrExhausted is returned by Connect once the empty connect budget is spent.
	ErrExhausted    = &ConnectError{Reason: "no peer unchoked within the connect limit"}
	ErrClosed       = errors.New("pool is closed")
	ErrTimeout      = errors.New("request timed out")
	ErrUnknownPiece = errors.New("peer announced an unknown piece")
)
