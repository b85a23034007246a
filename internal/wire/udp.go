package wire

import (
	"encoding/binary"

	"github.com/WendelHime/torrentstream/internal/shared/models"
)

// ProtocolMagic is the fixed connection id of a UDP connect request.
const ProtocolMagic uint64 = 0x41727101980

const (
	ActionConnect  uint32 = 0
	ActionAnnounce uint32 = 1
	ActionScrape   uint32 = 2
	ActionError    uint32 = 3
)

type AnnounceEvent uint32

const (
	EventNone AnnounceEvent = iota
	EventCompleted
	EventStarted
	EventStopped
)

const (
	connectRequestLen  = 16
	announceRequestLen = 98
	udpHeaderLen       = 8
)

func ConnectRequest(transactionID uint32) []byte {
	buf := make([]byte, connectRequestLen)
	binary.BigEndian.PutUint64(buf[0:8], ProtocolMagic)
	binary.BigEndian.PutUint32(buf[8:12], ActionConnect)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	return buf
}

type AnnounceRequest struct {
	ConnectionID  uint64
	TransactionID uint32
	InfoHash      models.Hash
	PeerID        [20]byte
	Downloaded    int64
	Left          int64
	Uploaded      int64
	Event         AnnounceEvent
	// IP of zero lets the tracker use the packet's source address.
	IP      uint32
	Key     uint32
	NumWant int32
	Port    uint16
}

// MarshalBinary lays the request out as the 98-byte announce packet.
func (r AnnounceRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, announceRequestLen)
	binary.BigEndian.PutUint64(buf[0:8], r.ConnectionID)
	binary.BigEndian.PutUint32(buf[8:12], ActionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], r.TransactionID)
	copy(buf[16:36], r.InfoHash[:])
	copy(buf[36:56], r.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], uint64(r.Downloaded))
	binary.BigEndian.PutUint64(buf[64:72], uint64(r.Left))
	binary.BigEndian.PutUint64(buf[72:80], uint64(r.Uploaded))
	binary.BigEndian.PutUint32(buf[80:84], uint32(r.Event))
	binary.BigEndian.PutUint32(buf[84:88], r.IP)
	binary.BigEndian.PutUint32(buf[88:92], r.Key)
	binary.BigEndian.PutUint32(buf[92:96], uint32(r.NumWant))
	binary.BigEndian.PutUint16(buf[96:98], r.Port)
	return buf, nil
}

// UDPResponse is the common header of every tracker reply plus its body.
type UDPResponse struct {
	Action        uint32
	TransactionID uint32
	Body          []byte
}

// ParseUDPResponse splits a datagram into header and body. An error response
// (action 3) is returned as a *TrackerError.
func ParseUDPResponse(b []byte) (UDPResponse, error) {
	var resp UDPResponse
	if len(b) < udpHeaderLen {
		return resp, protocolErrorf("tracker response of %d bytes", len(b))
	}
	resp.Action = binary.BigEndian.Uint32(b[0:4])
	resp.TransactionID = binary.BigEndian.Uint32(b[4:8])
	resp.Body = b[udpHeaderLen:]
	if resp.Action == ActionError {
		return resp, &TrackerError{Message: string(resp.Body)}
	}
	return resp, nil
}

// ParseConnectResponse returns the connection id granted by the tracker.
func ParseConnectResponse(resp UDPResponse) (uint64, error) {
	if resp.Action != ActionConnect {
		return 0, protocolErrorf("expected connect action, got %d", resp.Action)
	}
	if len(resp.Body) < 8 {
		return 0, protocolErrorf("connect response body of %d bytes", len(resp.Body))
	}
	return binary.BigEndian.Uint64(resp.Body[0:8]), nil
}

type AnnounceResponse struct {
	Interval uint32
	Leechers uint32
	Seeders  uint32
	Peers    []models.Addr
}

func ParseAnnounceResponse(resp UDPResponse) (AnnounceResponse, error) {
	var out AnnounceResponse
	if resp.Action != ActionAnnounce {
		return out, protocolErrorf("expected announce action, got %d", resp.Action)
	}
	if len(resp.Body) < 12 {
		return out, protocolErrorf("announce response body of %d bytes", len(resp.Body))
	}
	out.Interval = binary.BigEndian.Uint32(resp.Body[0:4])
	out.Leechers = binary.BigEndian.Uint32(resp.Body[4:8])
	out.Seeders = binary.BigEndian.Uint32(resp.Body[8:12])
	peers, err := ParseCompactPeers(resp.Body[12:])
	if err != nil {
		return out, err
	}
	out.Peers = peers
	return out, nil
}

// ParseCompactPeers decodes a packed list of 6-byte IPv4 peers.
func ParseCompactPeers(b []byte) ([]models.Addr, error) {
	if len(b)%models.CompactAddrLen != 0 {
		return nil, protocolErrorf("compact peer list of %d bytes", len(b))
	}
	peers := make([]models.Addr, 0, len(b)/models.CompactAddrLen)
	for i := 0; i < len(b); i += models.CompactAddrLen {
		var addr models.Addr
		if err := addr.ReadFromBytes(b[i : i+models.CompactAddrLen]); err != nil {
			return nil, err
		}
		peers = append(peers, addr)
	}
	return peers, nil
}
