package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongFile is matched by errors naming a file the torrent does not hold.
	ErrWrongFile    = errors.New("file not in torrent")
	ErrInvalidBlock = errors.New("block outside torrent geometry")
	ErrNotChecked   = errors.New("store has not been checked")
	ErrClosed       = errors.New("store is closed")
)

type WrongFileError struct {
	Name string
}

func (e *WrongFileError) Error() string {
	return fmt.Sprintf("%s: %q", ErrWrongFile, e.Name)
}

func (e *WrongFileError) Unwrap() error { return ErrWrongFile }

func (e *WrongFileError) Code() string { return "WRNGFL" }

// IOError is a filesystem failure. Any IOError aborts the download.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Code() string {
	switch e.Op {
	case "stat", "read":
		return "CNTRD"
	case "mkdir":
		return "CNTMKDR"
	case "open":
		return "CNTPN"
	case "rename":
		return "CNTRNM"
	case "remove":
		return "CNTDL"
	default:
		return "CNTWRT"
	}
}
