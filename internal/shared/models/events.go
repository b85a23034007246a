package models

// Event is an outcome reported to collaborators of a download. The set of
// variants is closed: PieceWritten, FilesChecked, Finished, ConnectFailed and
// PeersAdded.
type Event interface {
	event()
}

// PieceWritten reports that a block reached its final position on disk.
type PieceWritten struct {
	Piece int
	Block int
	Size  int
}

// FilesChecked reports how many bytes of the selected files already exist.
type FilesChecked struct {
	Size int64
}

// Finished reports that every wanted block has been written.
type Finished struct{}

// ConnectFailed reports a failed tracker announce.
type ConnectFailed struct {
	URL string
	Err error
}

// PeersAdded reports how many new peers a tracker announce contributed.
type PeersAdded struct {
	Count int
}

func (PieceWritten) event()  {}
func (FilesChecked) event()  {}
func (Finished) event()      {}
func (ConnectFailed) event() {}
func (PeersAdded) event()    {}
