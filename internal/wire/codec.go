// Package wire encodes and decodes peer wire messages and tracker packets. It
// performs no I/O of its own beyond reading frames from a supplied reader.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/WendelHime/torrentstream/internal/decoder"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/pkg/errors"
)

const (
	protocolName = "BitTorrent protocol"
	// HandshakeLen is the size of a handshake in either direction.
	HandshakeLen = 49 + len(protocolName)
	lengthPrefix = 4
)

// Handshake builds the 68-byte opening message for a torrent.
func Handshake(infoHash models.Hash, peerID [20]byte) []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolName))
	n := 1
	n += copy(buf[n:], protocolName)
	n += 8 // reserved
	n += copy(buf[n:], infoHash[:])
	copy(buf[n:], peerID[:])
	return buf
}

type HandshakeReply struct {
	InfoHash models.Hash
	PeerID   [20]byte
}

// ParseHandshake reads the info hash and peer id out of a handshake reply. The
// protocol string is not checked.
func ParseHandshake(buf []byte) (HandshakeReply, error) {
	var reply HandshakeReply
	if len(buf) != HandshakeLen {
		return reply, protocolErrorf("handshake of %d bytes", len(buf))
	}
	copy(reply.InfoHash[:], buf[28:48])
	copy(reply.PeerID[:], buf[48:])
	return reply, nil
}

func Interested() []byte {
	buf := make([]byte, lengthPrefix+1)
	binary.BigEndian.PutUint32(buf, 1)
	buf[4] = byte(models.MessageIDInterested)
	return buf
}

// Request builds the 17-byte request for one block.
func Request(req models.BlockRequest) []byte {
	buf := make([]byte, lengthPrefix+13)
	binary.BigEndian.PutUint32(buf[0:4], 13)
	buf[4] = byte(models.MessageIDRequest)
	binary.BigEndian.PutUint32(buf[5:9], uint32(req.Index))
	binary.BigEndian.PutUint32(buf[9:13], uint32(req.Begin))
	binary.BigEndian.PutUint32(buf[13:17], uint32(req.Length))
	return buf
}

// Message is a decoded length-prefixed frame.
type Message struct {
	Length    int
	ID        models.MessageID
	KeepAlive bool
	Payload   []byte
	// Index is set for have messages.
	Index int
	// Block is set for piece messages.
	Block models.Block
}

// Parse decodes one complete frame, length prefix included.
func Parse(frame []byte) (Message, error) {
	var msg Message
	if len(frame) < lengthPrefix {
		return msg, protocolErrorf("frame of %d bytes has no length prefix", len(frame))
	}
	length := int(binary.BigEndian.Uint32(frame))
	if len(frame)-lengthPrefix < length {
		return msg, protocolErrorf("frame declares %d bytes, has %d", length, len(frame)-lengthPrefix)
	}
	msg.Length = length
	if length == 0 {
		msg.KeepAlive = true
		return msg, nil
	}

	msg.ID = models.MessageID(frame[lengthPrefix])
	msg.Payload = frame[lengthPrefix+1 : lengthPrefix+length]

	switch msg.ID {
	case models.MessageIDHave:
		if len(msg.Payload) != 4 {
			return msg, protocolErrorf("have payload of %d bytes", len(msg.Payload))
		}
		msg.Index = int(binary.BigEndian.Uint32(msg.Payload))
	case models.MessageIDPiece:
		if len(msg.Payload) < 8 {
			return msg, protocolErrorf("piece payload of %d bytes", len(msg.Payload))
		}
		msg.Block = models.Block{
			Index: int(binary.BigEndian.Uint32(msg.Payload[0:4])),
			Begin: int(binary.BigEndian.Uint32(msg.Payload[4:8])),
			Data:  msg.Payload[8:],
		}
	}
	return msg, nil
}

// ReadMessage reads and decodes the next frame from r. Frames longer than
// maxLength are rejected before their payload is read.
func ReadMessage(r io.Reader, maxLength int) (Message, error) {
	prefix, err := decoder.ReadBytes(r, lengthPrefix)
	if err != nil {
		return Message{}, errors.Wrap(err, "reading message length")
	}
	length := int(binary.BigEndian.Uint32(prefix))
	if maxLength > 0 && length > maxLength {
		return Message{}, protocolErrorf("message of %d bytes exceeds %d", length, maxLength)
	}
	frame := make([]byte, lengthPrefix+length)
	copy(frame, prefix)
	if length > 0 {
		body, err := decoder.ReadBytes(r, length)
		if err != nil {
			return Message{}, errors.Wrapf(err, "reading %d byte message", length)
		}
		copy(frame[lengthPrefix:], body)
	}
	return Parse(frame)
}
