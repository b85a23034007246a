package storage

import (
	"os"
	"path/filepath"

	"github.com/WendelHime/torrentstream/internal/shared/models"
)

// Region is one declared file placed on the linear content. Regions are
// contiguous and ordered as declared.
type Region struct {
	Name   string
	Path   string
	Length int64
	// Start and End bound the file's bytes within the content, End exclusive.
	Start      int64
	End        int64
	FirstPiece int
	FirstBlock int
	LastPiece  int
	LastBlock  int
	// Size is the number of bytes found on disk by the last Check.
	Size int64

	handle *os.File
	// parts records the blocks whose bytes inside this file were written.
	parts map[blockKey]struct{}
}

type blockKey struct{ piece, block int }

func (r *Region) hasPart(piece, block int) bool {
	_, ok := r.parts[blockKey{piece, block}]
	return ok
}

func (r *Region) addPart(piece, block int) {
	if r.parts == nil {
		r.parts = make(map[blockKey]struct{})
	}
	r.parts[blockKey{piece, block}] = struct{}{}
}

func regions(meta models.Metafile, root string) []*Region {
	out := make([]*Region, 0, len(meta.Info.Files))
	pieceLength := int64(meta.Info.PieceLength)
	var offset int64
	for _, f := range meta.Info.Files {
		r := &Region{
			Name:   f.Name(),
			Path:   filepath.Join(root, f.Name()),
			Length: int64(f.Length),
			Start:  offset,
			End:    offset + int64(f.Length),
		}
		r.FirstPiece = int(r.Start / pieceLength)
		r.FirstBlock = int(r.Start%pieceLength) / models.BlockSize
		last := r.End - 1
		if last < r.Start {
			last = r.Start
		}
		r.LastPiece = int(last / pieceLength)
		r.LastBlock = int(last%pieceLength) / models.BlockSize
		out = append(out, r)
		offset = r.End
	}
	return out
}

// overlap clips [start, end) to the region, returning file-relative bounds.
func (r *Region) overlap(start, end int64) (lo, hi int64, ok bool) {
	lo, hi = max(start, r.Start), min(end, r.End)
	if lo >= hi {
		return 0, 0, false
	}
	return lo - r.Start, hi - r.Start, true
}

// eachBlock calls fn with every block touching the region and the block's
// absolute byte range.
func (r *Region) eachBlock(meta models.Metafile, fn func(piece, block int, start, end int64)) {
	if r.Length == 0 {
		return
	}
	for p := r.FirstPiece; p <= r.LastPiece && p < meta.NumPieces(); p++ {
		for b := 0; b < meta.BlockCount(p); b++ {
			start := meta.Offset(p, b*models.BlockSize)
			end := start + int64(meta.BlockSize(p, b))
			if _, _, ok := r.overlap(start, end); ok {
				fn(p, b, start, end)
			}
		}
	}
}
