package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(id models.MessageID, payload ...byte) []byte {
	buf := make([]byte, 5, 5+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(1+len(payload)))
	buf[4] = byte(id)
	return append(buf, payload...)
}

func TestHandshake(t *testing.T) {
	var hash models.Hash
	copy(hash[:], "01234567890123456789")
	var peerID [20]byte
	copy(peerID[:], "-TS0001-abcdefghijkl")

	buf := Handshake(hash, peerID)
	require.Len(t, buf, 68)
	assert.Equal(t, byte(19), buf[0])
	assert.Equal(t, "BitTorrent protocol", string(buf[1:20]))
	assert.Equal(t, make([]byte, 8), buf[20:28])
	assert.Equal(t, hash[:], buf[28:48])
	assert.Equal(t, peerID[:], buf[48:68])

	reply, err := ParseHandshake(buf)
	require.NoError(t, err)
	assert.Equal(t, hash, reply.InfoHash)
	assert.Equal(t, peerID, reply.PeerID)

	_, err = ParseHandshake(buf[:67])
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestInterestedAndRequest(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 1, 2}, Interested())

	buf := Request(models.BlockRequest{Index: 3, Begin: 16384, Length: 1000})
	assert.Equal(t, []byte{
		0, 0, 0, 13, 6,
		0, 0, 0, 3,
		0, 0, 0x40, 0,
		0, 0, 0x03, 0xe8,
	}, buf)
}

func TestParse(t *testing.T) {
	var tests = []struct {
		name   string
		frame  []byte
		assert func(t *testing.T, msg Message, err error)
	}{
		{
			name:  "keep alive",
			frame: []byte{0, 0, 0, 0},
			assert: func(t *testing.T, msg Message, err error) {
				require.NoError(t, err)
				assert.True(t, msg.KeepAlive)
			},
		},
		{
			name:  "choke",
			frame: frame(models.MessageIDChoke),
			assert: func(t *testing.T, msg Message, err error) {
				require.NoError(t, err)
				assert.Equal(t, models.MessageIDChoke, msg.ID)
				assert.Empty(t, msg.Payload)
			},
		},
		{
			name:  "have",
			frame: frame(models.MessageIDHave, 0, 0, 1, 2),
			assert: func(t *testing.T, msg Message, err error) {
				require.NoError(t, err)
				assert.Equal(t, 258, msg.Index)
			},
		},
		{
			name:  "bitfield passes raw payload",
			frame: frame(models.MessageIDBitfield, 0xa0, 0x01),
			assert: func(t *testing.T, msg Message, err error) {
				require.NoError(t, err)
				assert.Equal(t, []byte{0xa0, 0x01}, msg.Payload)
			},
		},
		{
			name:  "piece",
			frame: frame(models.MessageIDPiece, 0, 0, 0, 2, 0, 0, 0x40, 0, 'a', 'b', 'c'),
			assert: func(t *testing.T, msg Message, err error) {
				require.NoError(t, err)
				assert.Equal(t, models.Block{Index: 2, Begin: 16384, Data: []byte("abc")}, msg.Block)
				assert.Equal(t, 1, msg.Block.BlockIndex())
			},
		},
		{
			name:  "undersized piece",
			frame: frame(models.MessageIDPiece, 0, 0, 0, 2),
			assert: func(t *testing.T, msg Message, err error) {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
			},
		},
		{
			name:  "undersized have",
			frame: frame(models.MessageIDHave, 1),
			assert: func(t *testing.T, msg Message, err error) {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
			},
		},
		{
			name:  "truncated frame",
			frame: []byte{0, 0, 0, 9, 7, 1},
			assert: func(t *testing.T, msg Message, err error) {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
			},
		},
		{
			name:  "missing length prefix",
			frame: []byte{0, 1},
			assert: func(t *testing.T, msg Message, err error) {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.frame)
			tt.assert(t, msg, err)
		})
	}
}

func TestReadMessage(t *testing.T) {
	var tests = []struct {
		name   string
		input  []byte
		max    int
		assert func(t *testing.T, msg Message, err error)
	}{
		{
			name:  "consecutive frames",
			input: append(frame(models.MessageIDUnchoke), frame(models.MessageIDHave, 0, 0, 0, 7)...),
			max:   1024,
			assert: func(t *testing.T, msg Message, err error) {
				require.NoError(t, err)
				assert.Equal(t, models.MessageIDUnchoke, msg.ID)
			},
		},
		{
			name:  "oversized frame is rejected",
			input: []byte{0, 1, 0, 0, 7},
			max:   1024,
			assert: func(t *testing.T, msg Message, err error) {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
			},
		},
		{
			name:  "stream ends mid frame",
			input: []byte{0, 0, 0, 5, 4, 0},
			max:   1024,
			assert: func(t *testing.T, msg Message, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
		{
			name:  "closed stream",
			input: nil,
			max:   1024,
			assert: func(t *testing.T, msg Message, err error) {
				assert.ErrorIs(t, err, io.EOF)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ReadMessage(bytes.NewReader(tt.input), tt.max)
			tt.assert(t, msg, err)
		})
	}
}
