package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/WendelHime/torrentstream/internal/wire"
)

// connectionIDTTL is how long a UDP tracker honours a connection id.
const connectionIDTTL = time.Minute

const maxDatagram = 4096

var ErrTransactionMismatch = errors.New("transaction id mismatch")

func (c *Client) announceUDP(ctx context.Context, s *Session, first bool) (announceResult, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.url.Host)
	if err != nil {
		return announceResult{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c.mu.Lock()
	connID, issued := s.connID, s.connIssued
	c.mu.Unlock()

	if issued.IsZero() || time.Since(issued) > connectionIDTTL {
		txID := wire.NewTransactionID()
		resp, err := roundTrip(conn, wire.ConnectRequest(txID), txID)
		if err != nil {
			return announceResult{}, fmt.Errorf("connect: %w", err)
		}
		if connID, err = wire.ParseConnectResponse(resp); err != nil {
			return announceResult{}, fmt.Errorf("connect: %w", err)
		}
		c.mu.Lock()
		s.connID, s.connIssued = connID, time.Now()
		c.mu.Unlock()
	}

	downloaded, left := c.opts.Progress()
	req := wire.AnnounceRequest{
		ConnectionID:  connID,
		TransactionID: wire.NewTransactionID(),
		InfoHash:      c.meta.InfoHash,
		PeerID:        c.peerID,
		Downloaded:    downloaded,
		Left:          left,
		Event:         wire.EventNone,
		Key:           c.key,
		NumWant:       c.cfg.NumWant,
		Port:          c.cfg.Port,
	}
	if first {
		req.Event = wire.EventStarted
	}
	packet, err := req.MarshalBinary()
	if err != nil {
		return announceResult{}, err
	}
	resp, err := roundTrip(conn, packet, req.TransactionID)
	if err != nil {
		return announceResult{}, fmt.Errorf("announce: %w", err)
	}
	announce, err := wire.ParseAnnounceResponse(resp)
	if err != nil {
		return announceResult{}, fmt.Errorf("announce: %w", err)
	}
	return announceResult{
		interval: time.Duration(announce.Interval) * time.Second,
		peers:    announce.Peers,
	}, nil
}

func roundTrip(conn net.Conn, packet []byte, txID uint32) (wire.UDPResponse, error) {
	if _, err := conn.Write(packet); err != nil {
		return wire.UDPResponse{}, err
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		return wire.UDPResponse{}, err
	}
	resp, err := wire.ParseUDPResponse(buf[:n])
	if err != nil {
		return resp, err
	}
	if resp.TransactionID != txID {
		return resp, fmt.Errorf("%w: sent %d, got %d", ErrTransactionMismatch, txID, resp.TransactionID)
	}
	return resp, nil
}
