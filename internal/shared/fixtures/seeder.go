package fixtures

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/WendelHime/torrentstream/internal/decoder"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/WendelHime/torrentstream/internal/wire"
)

// Seeder serves the whole content of a torrent to every peer that connects.
type Seeder struct {
	ln      net.Listener
	meta    models.Metafile
	content []byte
	wg      sync.WaitGroup

	mu    sync.Mutex
	conns []net.Conn
}

func NewSeeder(meta models.Metafile, content []byte) (*Seeder, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Seeder{ln: ln, meta: meta, content: content}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *Seeder) Addr() models.Addr {
	tcp := s.ln.Addr().(*net.TCPAddr)
	return models.Addr{IP: tcp.IP, Port: uint16(tcp.Port)}
}

func (s *Seeder) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Seeder) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if _, err := decoder.ReadBytes(conn, wire.HandshakeLen); err != nil {
		return
	}
	var id [20]byte
	copy(id[:], "-FX0001-seederseeder")
	if _, err := conn.Write(wire.Handshake(s.meta.InfoHash, id)); err != nil {
		return
	}

	bitfield := make([]byte, (s.meta.NumPieces()+7)/8)
	for i := 0; i < s.meta.NumPieces(); i++ {
		bitfield[i/8] |= 1 << (7 - uint(i%8))
	}
	if _, err := conn.Write(Frame(models.MessageIDBitfield, bitfield)); err != nil {
		return
	}
	if _, err := conn.Write(Frame(models.MessageIDUnchoke, nil)); err != nil {
		return
	}

	for {
		msg, err := wire.ReadMessage(conn, 1<<20)
		if err != nil {
			return
		}
		if msg.ID != models.MessageIDRequest || len(msg.Payload) != 12 {
			continue
		}
		index := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
		begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
		length := int(binary.BigEndian.Uint32(msg.Payload[8:12]))
		off := int(s.meta.Offset(index, begin))
		if off < 0 || off+length > len(s.content) {
			return
		}
		if _, err := conn.Write(PieceFrame(index, begin, s.content[off:off+length])); err != nil {
			return
		}
	}
}

// Close stops accepting, drops every connection and waits for them.
func (s *Seeder) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Frame encodes a length-prefixed peer message.
func Frame(id models.MessageID, payload []byte) []byte {
	buf := make([]byte, 5, 5+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(1+len(payload)))
	buf[4] = byte(id)
	return append(buf, payload...)
}

func PieceFrame(index, begin int, data []byte) []byte {
	payload := make([]byte, 8, 8+len(data))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	return Frame(models.MessageIDPiece, append(payload, data...))
}
