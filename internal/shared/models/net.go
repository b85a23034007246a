package models

import (
	"encoding/binary"
	"errors"
	"net"
	"strconv"
)

// CompactAddrLen is the size of one peer in the compact peer format.
const CompactAddrLen = 6

type Addr struct {
	IP   net.IP
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

var ErrInvalidAddr = errors.New("invalid address")

func (a *Addr) ReadFromBytes(b []byte) error {
	if len(b) != CompactAddrLen {
		return ErrInvalidAddr
	}

	a.IP = net.IPv4(b[0], b[1], b[2], b[3])
	a.Port = binary.BigEndian.Uint16(b[4:])

	return nil
}
