package wire

import (
	"strconv"
	"strings"

	"github.com/WendelHime/torrentstream/internal/shared/models"
)

const upperhex = "0123456789ABCDEF"

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '.', c == '-', c == '_', c == '~':
		return true
	}
	return false
}

// EscapeBinary percent-encodes every byte outside the unreserved set as an
// uppercase %XX escape.
func EscapeBinary(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		if unreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperhex[c>>4])
		sb.WriteByte(upperhex[c&15])
	}
	return sb.String()
}

type AnnounceParams struct {
	InfoHash   models.Hash
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	NumWant    int32
	Event      AnnounceEvent
}

func (e AnnounceEvent) String() string {
	switch e {
	case EventCompleted:
		return "completed"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	default:
		return ""
	}
}

// AnnounceQuery renders the query string of an HTTP announce. Binary fields are
// escaped with EscapeBinary.
func AnnounceQuery(p AnnounceParams) string {
	parts := []string{
		"info_hash=" + EscapeBinary(p.InfoHash[:]),
		"peer_id=" + EscapeBinary(p.PeerID[:]),
		"port=" + strconv.Itoa(int(p.Port)),
		"uploaded=" + strconv.FormatInt(p.Uploaded, 10),
		"downloaded=" + strconv.FormatInt(p.Downloaded, 10),
		"left=" + strconv.FormatInt(p.Left, 10),
		"compact=1",
	}
	if p.NumWant > 0 {
		parts = append(parts, "numwant="+strconv.Itoa(int(p.NumWant)))
	}
	if ev := p.Event.String(); ev != "" {
		parts = append(parts, "event="+ev)
	}
	return strings.Join(parts, "&")
}
