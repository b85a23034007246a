package logic

import (
	"errors"

	"github.com/WendelHime/torrentstream/internal/p2p"
)

var (
	// ErrConnect is returned once every tracker session has given up.
	ErrConnect        = &p2p.ConnectError{Reason: "every tracker failed"}
	ErrNotInitialized = errors.New("downloader is not initialized")
	ErrBusy           = errors.New("download already running")
	ErrClosed         = errors.New("downloader is closed")
)

type coder interface {
	Code() string
}

// ErrorCode returns the short code carried by err, or an empty string when it
// has none.
func ErrorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}
