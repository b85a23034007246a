// Package fixtures builds torrents, seeders and trackers for tests.
package fixtures

import (
	"crypto/sha1"

	"github.com/zeebo/bencode"
)

type File struct {
	Path []string
	Data []byte
}

type Torrent struct {
	Name         string
	PieceLength  int
	Announce     string
	AnnounceList [][]string
	Files        []File
	// SingleFile encodes the only file with the single-file layout.
	SingleFile bool
}

// Content is the concatenation of every file.
func (t Torrent) Content() []byte {
	var out []byte
	for _, f := range t.Files {
		out = append(out, f.Data...)
	}
	return out
}

func (t Torrent) info() map[string]interface{} {
	content := t.Content()
	var hashes []byte
	for off := 0; off < len(content); off += t.PieceLength {
		end := min(off+t.PieceLength, len(content))
		sum := sha1.Sum(content[off:end])
		hashes = append(hashes, sum[:]...)
	}

	info := map[string]interface{}{
		"name":         t.Name,
		"piece length": t.PieceLength,
		"pieces":       string(hashes),
	}
	if t.SingleFile {
		info["length"] = len(t.Files[0].Data)
		return info
	}
	files := make([]map[string]interface{}, 0, len(t.Files))
	for _, f := range t.Files {
		files = append(files, map[string]interface{}{
			"length": len(f.Data),
			"path":   f.Path,
		})
	}
	info["files"] = files
	return info
}

// Encode returns the bencoded torrent descriptor.
func (t Torrent) Encode() ([]byte, error) {
	torrent := map[string]interface{}{
		"info": t.info(),
	}
	if t.Announce != "" {
		torrent["announce"] = t.Announce
	}
	if len(t.AnnounceList) > 0 {
		torrent["announce-list"] = t.AnnounceList
	}
	return bencode.EncodeBytes(torrent)
}

// Pattern returns n bytes of a repeating pattern.
func Pattern(n int, seed byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i%251) + seed
	}
	return buf
}
