package wire

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRequest(t *testing.T) {
	buf := ConnectRequest(0xdeadbeef)
	require.Len(t, buf, 16)
	assert.Equal(t, uint64(0x41727101980), binary.BigEndian.Uint64(buf[0:8]))
	assert.Equal(t, ActionConnect, binary.BigEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint32(0xdeadbeef), binary.BigEndian.Uint32(buf[12:16]))
}

func TestAnnounceRequest(t *testing.T) {
	var hash models.Hash
	copy(hash[:], "infohashinfohash1234")
	req := AnnounceRequest{
		ConnectionID:  42,
		TransactionID: 7,
		InfoHash:      hash,
		PeerID:        NewPeerID(),
		Downloaded:    100,
		Left:          900,
		Event:         EventStarted,
		Key:           99,
		NumWant:       100,
		Port:          6881,
	}
	buf, err := req.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, 98)
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(buf[0:8]))
	assert.Equal(t, ActionAnnounce, binary.BigEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(buf[12:16]))
	assert.Equal(t, hash[:], buf[16:36])
	assert.Equal(t, req.PeerID[:], buf[36:56])
	assert.Equal(t, uint64(100), binary.BigEndian.Uint64(buf[56:64]))
	assert.Equal(t, uint64(900), binary.BigEndian.Uint64(buf[64:72]))
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(buf[72:80]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(buf[80:84]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(buf[84:88]))
	assert.Equal(t, uint32(99), binary.BigEndian.Uint32(buf[88:92]))
	assert.Equal(t, uint32(100), binary.BigEndian.Uint32(buf[92:96]))
	assert.Equal(t, uint16(6881), binary.BigEndian.Uint16(buf[96:98]))
}

func udpPacket(action, txID uint32, body ...byte) []byte {
	buf := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(buf[0:4], action)
	binary.BigEndian.PutUint32(buf[4:8], txID)
	return append(buf, body...)
}

func TestParseUDPResponse(t *testing.T) {
	var tests = []struct {
		name   string
		packet []byte
		assert func(t *testing.T, resp UDPResponse, err error)
	}{
		{
			name:   "connect",
			packet: udpPacket(ActionConnect, 5, 0, 0, 0, 0, 0, 0, 0x01, 0x02),
			assert: func(t *testing.T, resp UDPResponse, err error) {
				require.NoError(t, err)
				assert.Equal(t, uint32(5), resp.TransactionID)
				id, err := ParseConnectResponse(resp)
				require.NoError(t, err)
				assert.Equal(t, uint64(0x0102), id)
				_, err = ParseAnnounceResponse(resp)
				assert.Error(t, err)
			},
		},
		{
			name: "announce with two peers",
			packet: udpPacket(ActionAnnounce, 6,
				0, 0, 0x07, 0x08, 0, 0, 0, 1, 0, 0, 0, 2,
				10, 0, 0, 1, 0x1a, 0xe1,
				10, 0, 0, 2, 0x1a, 0xe2),
			assert: func(t *testing.T, resp UDPResponse, err error) {
				require.NoError(t, err)
				announce, err := ParseAnnounceResponse(resp)
				require.NoError(t, err)
				assert.Equal(t, uint32(1800), announce.Interval)
				assert.Equal(t, uint32(1), announce.Leechers)
				assert.Equal(t, uint32(2), announce.Seeders)
				require.Len(t, announce.Peers, 2)
				assert.Equal(t, "10.0.0.1:6881", announce.Peers[0].String())
				assert.Equal(t, "10.0.0.2:6882", announce.Peers[1].String())
			},
		},
		{
			name:   "error action",
			packet: udpPacket(ActionError, 6, []byte("unregistered torrent")...),
			assert: func(t *testing.T, resp UDPResponse, err error) {
				var terr *TrackerError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, "unregistered torrent", terr.Message)
			},
		},
		{
			name:   "short datagram",
			packet: []byte{0, 0, 0, 1},
			assert: func(t *testing.T, resp UDPResponse, err error) {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseUDPResponse(tt.packet)
			tt.assert(t, resp, err)
		})
	}
}

func TestParseCompactPeers(t *testing.T) {
	peers, err := ParseCompactPeers([]byte{192, 168, 100, 100, 0x1a, 0xe9})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.True(t, net.IPv4(192, 168, 100, 100).Equal(peers[0].IP))
	assert.Equal(t, uint16(6889), peers[0].Port)

	_, err = ParseCompactPeers([]byte{1, 2, 3})
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)

	peers, err = ParseCompactPeers(nil)
	require.NoError(t, err)
	assert.Empty(t, peers)
}
