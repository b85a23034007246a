package models

// TotalLength is the sum of every declared file length.
func (m Metafile) TotalLength() int64 {
	var total int64
	for _, f := range m.Info.Files {
		total += int64(f.Length)
	}
	return total
}

func (m Metafile) NumPieces() int {
	return len(m.PieceHashes)
}

func (m Metafile) lastPiece() int {
	return m.NumPieces() - 1
}

// PieceSize returns the length of piece i. Only the last piece may be shorter than
// the declared piece length.
func (m Metafile) PieceSize(i int) int {
	if i == m.lastPiece() {
		if rem := int(m.TotalLength() % int64(m.Info.PieceLength)); rem != 0 {
			return rem
		}
	}
	return m.Info.PieceLength
}

func (m Metafile) BlockCount(i int) int {
	return (m.PieceSize(i) + BlockSize - 1) / BlockSize
}

func (m Metafile) BlockSize(i, j int) int {
	size := m.PieceSize(i)
	if j == size/BlockSize && size%BlockSize != 0 {
		return size % BlockSize
	}
	return BlockSize
}

// Offset is the absolute content offset of byte begin within piece i.
func (m Metafile) Offset(i, begin int) int64 {
	return int64(i)*int64(m.Info.PieceLength) + int64(begin)
}

// Announces returns the announce URL followed by the flattened announce-list,
// without duplicates.
func (m Metafile) Announces() []string {
	seen := make(map[string]struct{})
	urls := make([]string, 0, 1+len(m.AnnounceList))
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	add(m.Announce)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return urls
}
