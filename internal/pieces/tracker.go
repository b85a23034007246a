// Package pieces keeps the requested/received bookkeeping for every block of a
// torrent.
package pieces

// Geometry is the part of the torrent metadata the tracker needs.
type Geometry interface {
	NumPieces() int
	BlockCount(piece int) int
}

// BlockRef addresses one block of one piece.
type BlockRef struct {
	Piece int
	Block int
}

// Tracker holds two parallel block bitmaps per piece. A block is needed while it
// is not requested, and received always implies requested.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	requested [][]bool
	received  [][]bool
	lost      []BlockRef
	lostFlag  bool
}

func New(g Geometry) *Tracker {
	t := &Tracker{
		requested: make([][]bool, g.NumPieces()),
		received:  make([][]bool, g.NumPieces()),
	}
	for i := range t.requested {
		t.requested[i] = make([]bool, g.BlockCount(i))
		t.received[i] = make([]bool, g.BlockCount(i))
	}
	return t
}

// Bootstrap seeds both bitmaps from the blocks already present on disk.
func (t *Tracker) Bootstrap(present [][]bool) {
	for p := range t.received {
		for b := range t.received[p] {
			have := p < len(present) && b < len(present[p]) && present[p][b]
			t.received[p][b] = have
			t.requested[p][b] = have
		}
	}
	t.lost = nil
	t.lostFlag = false
}

func (t *Tracker) valid(piece, block int) bool {
	return piece >= 0 && piece < len(t.received) && block >= 0 && block < len(t.received[piece])
}

// Needed reports whether any block of piece has not been requested yet.
func (t *Tracker) Needed(piece int) bool {
	if piece < 0 || piece >= len(t.requested) {
		return false
	}
	for _, r := range t.requested[piece] {
		if !r {
			return true
		}
	}
	return false
}

func (t *Tracker) NeededBlock(piece, block int) bool {
	return t.valid(piece, block) && !t.requested[piece][block]
}

func (t *Tracker) Received(piece, block int) bool {
	return t.valid(piece, block) && t.received[piece][block]
}

func (t *Tracker) MarkRequested(piece, block int) {
	if t.valid(piece, block) {
		t.requested[piece][block] = true
	}
}

// Release makes a requested but unreceived block needed again.
func (t *Tracker) Release(piece, block int) bool {
	if !t.valid(piece, block) || t.received[piece][block] || !t.requested[piece][block] {
		return false
	}
	t.requested[piece][block] = false
	return true
}

// Lose releases a block whose request timed out and queues it for recovery.
func (t *Tracker) Lose(piece, block int) bool {
	if !t.Release(piece, block) {
		return false
	}
	t.lost = append(t.lost, BlockRef{Piece: piece, Block: block})
	t.lostFlag = true
	return true
}

// MarkReceived records a delivered block and reports whether it was new.
func (t *Tracker) MarkReceived(piece, block int) bool {
	if !t.valid(piece, block) || t.received[piece][block] {
		return false
	}
	t.received[piece][block] = true
	t.requested[piece][block] = true
	return true
}

// Missing lists, in ascending order, the pieces with at least one block not yet
// received.
func (t *Tracker) Missing() []int {
	missing := make([]int, 0)
	for p, blocks := range t.received {
		for _, r := range blocks {
			if !r {
				missing = append(missing, p)
				break
			}
		}
	}
	return missing
}

// Complete reports whether every block has been received. When every block is
// requested but some never arrived, the requested bitmap is reset to the
// received one and the missing blocks are flagged as lost.
func (t *Tracker) Complete() bool {
	if all(t.received) {
		return true
	}
	if all(t.requested) {
		t.lost = t.lost[:0]
		for p := range t.received {
			copy(t.requested[p], t.received[p])
			for b, r := range t.received[p] {
				if !r {
					t.lost = append(t.lost, BlockRef{Piece: p, Block: b})
				}
			}
		}
		t.lostFlag = true
	}
	return false
}

// Lost reports whether blocks are waiting to be requeued.
func (t *Tracker) Lost() bool {
	return t.lostFlag
}

// TakeLost drains the lost blocks and clears the loss signal.
func (t *Tracker) TakeLost() []BlockRef {
	lost := t.lost
	t.lost = nil
	t.lostFlag = false
	return lost
}

// Counts returns the number of received blocks and the total block count.
func (t *Tracker) Counts() (received, total int) {
	for _, blocks := range t.received {
		for _, r := range blocks {
			total++
			if r {
				received++
			}
		}
	}
	return received, total
}

func all(bitmap [][]bool) bool {
	for _, blocks := range bitmap {
		for _, b := range blocks {
			if !b {
				return false
			}
		}
	}
	return true
}
