package decoder

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/zeebo/bencode"
)

type MetafileDecoder interface {
	Decode(io.Reader) (models.Metafile, error)
}

type decoder struct{}

func NewDecoder() MetafileDecoder {
	return decoder{}
}

// ParseError reports a descriptor that is not valid bencoding or lacks a
// mandatory field.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse torrent: %v", e.Err)
	}
	return fmt.Sprintf("parse torrent: %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Code() string { return "CNTPRS" }

var (
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

// serialization struct the represents the structure of a .torrent file
// it is not immediately usable, so it can be converted to a Metafile
type bencodeTorrent struct {
	// URL of tracker server to get peers from
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	// Info is kept raw so the info hash covers the exact source bytes
	Info bencode.RawMessage `bencode:"info"`
}

type bencodeInfo struct {
	Name        string        `bencode:"name"`
	Length      int64         `bencode:"length"`
	PieceLength int64         `bencode:"piece length"`
	Pieces      string        `bencode:"pieces"`
	Files       []bencodeFile `bencode:"files"`
}

type bencodeFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

func (decoder) Decode(torrent io.Reader) (models.Metafile, error) {
	var response models.Metafile

	raw, err := io.ReadAll(torrent)
	if err != nil {
		return response, &ParseError{Err: err}
	}

	var bt bencodeTorrent
	if err := bencode.DecodeBytes(raw, &bt); err != nil {
		return response, &ParseError{Err: err}
	}
	if len(bt.Info) == 0 {
		return response, &ParseError{Field: "info", Err: ErrMissingField}
	}

	var info bencodeInfo
	if err := bencode.DecodeBytes(bt.Info, &info); err != nil {
		return response, &ParseError{Field: "info", Err: err}
	}

	response.Announce = bt.Announce
	response.AnnounceList = bt.AnnounceList
	if len(response.Announces()) == 0 {
		return response, &ParseError{Field: "announce", Err: ErrMissingField}
	}
	response.InfoHash = calculateInfoHash(bt.Info)

	response.Info, err = info.toInfo()
	if err != nil {
		return response, err
	}

	response.PieceHashes, err = calculatePiecesHashes(info.Pieces)
	if err != nil {
		return response, err
	}

	total := response.TotalLength()
	want := (total + info.PieceLength - 1) / info.PieceLength
	if int64(len(response.PieceHashes)) != want {
		return response, &ParseError{
			Field: "pieces",
			Err:   fmt.Errorf("%w: %d hashes for %d bytes", ErrInvalidField, len(response.PieceHashes), total),
		}
	}

	return response, nil
}

func (bi bencodeInfo) toInfo() (models.Info, error) {
	if bi.Name == "" {
		return models.Info{}, &ParseError{Field: "name", Err: ErrMissingField}
	}
	if bi.PieceLength <= 0 {
		return models.Info{}, &ParseError{Field: "piece length", Err: ErrMissingField}
	}

	info := models.Info{Name: bi.Name, PieceLength: int(bi.PieceLength)}
	switch {
	case len(bi.Files) > 0:
		for i, f := range bi.Files {
			if f.Length < 0 || len(f.Path) == 0 {
				return models.Info{}, &ParseError{Field: fmt.Sprintf("files[%d]", i), Err: ErrInvalidField}
			}
			info.Files = append(info.Files, models.File{Length: int(f.Length), Path: f.Path})
		}
	case bi.Length > 0:
		info.Files = []models.File{{Length: int(bi.Length), Path: []string{bi.Name}}}
		info.SingleFile = true
	default:
		return models.Info{}, &ParseError{Field: "length", Err: ErrMissingField}
	}
	return info, nil
}

func calculateInfoHash(info []byte) models.Hash {
	return sha1.Sum(info)
}

func calculatePiecesHashes(pieces string) ([]models.Hash, error) {
	if len(pieces) == 0 {
		return nil, &ParseError{Field: "pieces", Err: ErrMissingField}
	}
	if len(pieces)%sha1.Size != 0 {
		return nil, &ParseError{
			Field: "pieces",
			Err:   fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidField, len(pieces), sha1.Size),
		}
	}

	piecesHashes := make([]models.Hash, len(pieces)/sha1.Size)
	for i := range piecesHashes {
		copy(piecesHashes[i][:], pieces[i*sha1.Size:(i+1)*sha1.Size])
	}

	return piecesHashes, nil
}
