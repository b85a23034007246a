package models

import (
	"encoding/hex"
	"path/filepath"
)

// BlockSize is the unit of request and transfer between peers.
const BlockSize = 16 * 1024

type Metafile struct {
	Announce     string
	AnnounceList [][]string
	Info         Info
	InfoHash     Hash
	PieceHashes  []Hash
}

type Info struct {
	Name        string
	PieceLength int
	Files       []File
	// SingleFile is set for descriptors using the single-file layout, whose
	// only file is named after the torrent.
	SingleFile bool
}

type File struct {
	Length int
	Path   []string
}

// Name is the file's path relative to the torrent root, using the OS separator.
func (f File) Name() string {
	return filepath.Join(f.Path...)
}

type Hash [20]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
