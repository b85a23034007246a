package fixtures

import (
	"encoding/binary"
	"net/http"

	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/zeebo/bencode"
)

// TrackerHandler answers every HTTP announce with the given peers in compact
// form.
func TrackerHandler(interval int, peers ...models.Addr) http.Handler {
	compact := make([]byte, 0, len(peers)*models.CompactAddrLen)
	for _, p := range peers {
		entry := make([]byte, models.CompactAddrLen)
		copy(entry, p.IP.To4())
		binary.BigEndian.PutUint16(entry[4:], p.Port)
		compact = append(compact, entry...)
	}
	body, err := bencode.EncodeBytes(map[string]interface{}{
		"interval": interval,
		"peers":    string(compact),
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(body)
	})
}
