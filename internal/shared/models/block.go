package models

// Block is a received chunk of piece data.
type Block struct {
	Index int
	Begin int
	Data  []byte
}

// BlockIndex is the block number of the block within its piece.
func (b Block) BlockIndex() int {
	return b.Begin / BlockSize
}

// BlockRequest names a block to ask a peer for.
type BlockRequest struct {
	Index  int
	Begin  int
	Length int
}

func (r BlockRequest) BlockIndex() int {
	return r.Begin / BlockSize
}
