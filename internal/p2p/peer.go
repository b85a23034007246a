package p2p

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/WendelHime/torrentstream/internal/decoder"
	"github.com/WendelHime/torrentstream/internal/pieces"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/WendelHime/torrentstream/internal/storage"
	"github.com/WendelHime/torrentstream/internal/wire"
)

type state int

const (
	stateConnecting state = iota
	stateHandshaking
	stateChoked
	stateUnchoked
	stateDisconnected
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateHandshaking:
		return "handshaking"
	case stateChoked:
		return "choked"
	case stateUnchoked:
		return "unchoked"
	default:
		return "disconnected"
	}
}

// peerConn is one entry of the pool. Every field is guarded by the pool lock.
type peerConn struct {
	addr  models.Addr
	state state
	conn  net.Conn
	queue []models.BlockRequest
	// have is the set of pieces the peer announced.
	have       *roaring.Bitmap
	interested bool
	// inflight is the single outstanding request, if any.
	inflight  *pieces.BlockRef
	lostTimer *time.Timer
	// lostSeq invalidates loss timers armed for earlier requests.
	lostSeq uint64
}

func (pc *peerConn) reset() {
	pc.queue = nil
	pc.have = roaring.New()
	pc.interested = false
	pc.inflight = nil
}

func (p *Pool) run(pc *peerConn) {
	defer p.wg.Done()

	conn, err := p.open(pc)
	if err != nil {
		p.mu.Lock()
		if pc.state == stateConnecting || pc.state == stateHandshaking {
			p.disconnect(pc, err)
		}
		p.mu.Unlock()
		return
	}

	for {
		msg, err := wire.ReadMessage(conn, p.cfg.MaxMessageLength)
		p.mu.Lock()
		if pc.conn != conn {
			p.mu.Unlock()
			return
		}
		if err == nil {
			err = p.handle(pc, msg)
		}
		if err != nil {
			p.disconnect(pc, err)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

// open dials the peer and exchanges handshakes. The reply is always read as a
// 68-byte handshake.
func (p *Pool) open(pc *peerConn) (net.Conn, error) {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return nil, err
	}
	conn, err := p.dialer.DialContext(p.ctx, "tcp", pc.addr.String())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed || pc.state != stateConnecting {
		p.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	pc.conn = conn
	pc.state = stateHandshaking
	handshake := wire.Handshake(p.meta.InfoHash, p.peerID)
	p.mu.Unlock()

	if p.cfg.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(p.cfg.HandshakeTimeout))
	}
	if _, err := conn.Write(handshake); err != nil {
		return nil, err
	}
	reply, err := decoder.ReadBytes(conn, wire.HandshakeLen)
	if err != nil {
		return nil, err
	}
	if _, err := wire.ParseHandshake(reply); err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	p.mu.Lock()
	defer p.mu.Unlock()
	if pc.conn != conn {
		return nil, ErrClosed
	}
	pc.state = stateChoked
	return conn, nil
}

func (p *Pool) handle(pc *peerConn, msg wire.Message) error {
	if msg.KeepAlive {
		return nil
	}
	switch msg.ID {
	case models.MessageIDChoke:
		p.choke(pc)
	case models.MessageIDUnchoke:
		p.unchoke(pc)
	case models.MessageIDHave:
		return p.announce(pc, []int{msg.Index})
	case models.MessageIDBitfield:
		return p.announce(pc, bitfieldPieces(msg.Payload, p.meta.NumPieces()))
	case models.MessageIDPiece:
		return p.piece(pc, msg.Block)
	}
	return nil
}

// choke drops the queue and gives the outstanding request back so another
// peer can take it. The socket stays open.
func (p *Pool) choke(pc *peerConn) {
	pc.state = stateChoked
	pc.queue = nil
	if pc.inflight != nil {
		p.pieces.Release(pc.inflight.Piece, pc.inflight.Block)
		pc.inflight = nil
	}
}

// unchoke rebuilds the queue from the missing pieces, those the peer
// announced first.
func (p *Pool) unchoke(pc *peerConn) {
	pc.state = stateUnchoked
	pc.queue = pc.queue[:0]

	missing := p.pieces.Missing()
	for _, i := range missing {
		if pc.have.Contains(uint32(i)) {
			p.enqueue(pc, i)
		}
	}
	for _, i := range missing {
		if !pc.have.Contains(uint32(i)) {
			p.enqueue(pc, i)
		}
	}
	p.dispatch(pc)
}

func (p *Pool) announce(pc *peerConn, indices []int) error {
	wanted := false
	for _, i := range indices {
		if i < 0 || i >= p.meta.NumPieces() {
			return ErrUnknownPiece
		}
		if !pc.have.CheckedAdd(uint32(i)) {
			continue
		}
		if p.pieces.Needed(i) {
			wanted = true
			p.enqueue(pc, i)
		}
	}
	if wanted && !pc.interested {
		pc.interested = true
		if _, err := pc.conn.Write(wire.Interested()); err != nil {
			return err
		}
	}
	p.dispatch(pc)
	return nil
}

// enqueue appends the blocks of piece not received yet.
func (p *Pool) enqueue(pc *peerConn, piece int) {
	for b := 0; b < p.meta.BlockCount(piece); b++ {
		if p.pieces.Received(piece, b) {
			continue
		}
		pc.queue = append(pc.queue, p.request(piece, b))
	}
}

func (p *Pool) request(piece, block int) models.BlockRequest {
	return models.BlockRequest{
		Index:  piece,
		Begin:  block * models.BlockSize,
		Length: p.meta.BlockSize(piece, block),
	}
}

func (p *Pool) piece(pc *peerConn, block models.Block) error {
	ref := pieces.BlockRef{Piece: block.Index, Block: block.BlockIndex()}
	if !p.pieces.Received(ref.Piece, ref.Block) {
		// A rejected block stays in flight so disconnect hands it to the
		// lost list.
		if _, err := p.store.Write(block); err != nil {
			if errors.Is(err, storage.ErrInvalidBlock) {
				return err
			}
			p.log.Error("failed to write block", slog.Int("piece", ref.Piece), slog.Int("block", ref.Block), slog.Any("error", err))
			p.fail(err)
			return err
		}
		p.pieces.MarkReceived(ref.Piece, ref.Block)
		p.emit(models.PieceWritten{Piece: ref.Piece, Block: ref.Block, Size: len(block.Data)})
	}
	if pc.inflight != nil && *pc.inflight == ref {
		pc.inflight = nil
		pc.lostSeq++
		pc.lostTimer.Stop()
	}

	if p.pieces.Complete() {
		p.finish()
		return nil
	}
	if p.pieces.Lost() {
		p.requeue(pc, p.pieces.TakeLost())
	}
	p.dispatch(pc)
	return nil
}

// requeue puts lost blocks ahead of the peer's queue.
func (p *Pool) requeue(pc *peerConn, lost []pieces.BlockRef) {
	queue := make([]models.BlockRequest, 0, len(lost)+len(pc.queue))
	for _, l := range lost {
		queue = append(queue, p.request(l.Piece, l.Block))
	}
	pc.queue = append(queue, pc.queue...)
}

// reassign hands lost blocks to unchoked peers with nothing in flight. Busy
// peers pick them up when their current block arrives.
func (p *Pool) reassign() {
	if !p.pieces.Lost() {
		return
	}
	var idle []*peerConn
	for _, pc := range p.peers {
		if pc.state == stateUnchoked && pc.inflight == nil {
			idle = append(idle, pc)
		}
	}
	if len(idle) == 0 {
		return
	}
	lost := p.pieces.TakeLost()
	for _, pc := range idle {
		p.requeue(pc, lost)
		p.dispatch(pc)
	}
}

// dispatch sends the first queued request still needed. At most one request
// is outstanding per peer.
func (p *Pool) dispatch(pc *peerConn) {
	if pc.state != stateUnchoked || pc.inflight != nil {
		return
	}
	for len(pc.queue) > 0 {
		req := pc.queue[0]
		pc.queue = pc.queue[1:]
		ref := pieces.BlockRef{Piece: req.Index, Block: req.BlockIndex()}
		if !p.pieces.NeededBlock(ref.Piece, ref.Block) {
			continue
		}
		if _, err := pc.conn.Write(wire.Request(req)); err != nil {
			p.disconnect(pc, err)
			return
		}
		p.pieces.MarkRequested(ref.Piece, ref.Block)
		pc.inflight = &ref
		pc.lostSeq++
		seq := pc.lostSeq
		pc.lostTimer = time.AfterFunc(p.cfg.LostTimeout, func() { p.lost(pc, seq, ref) })
		return
	}
}

// lost runs when a request outlives the loss timeout. A block that was
// received, or released by a choke, is left alone.
func (p *Pool) lost(pc *peerConn, seq uint64, ref pieces.BlockRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || seq != pc.lostSeq || pc.inflight == nil || *pc.inflight != ref {
		return
	}
	pc.inflight = nil
	if !p.pieces.Lose(ref.Piece, ref.Block) {
		return
	}
	p.log.Debug("request timed out", slog.String("peer", pc.addr.String()), slog.Int("piece", ref.Piece), slog.Int("block", ref.Block))
	p.choke(pc)
	p.disconnect(pc, ErrTimeout)
}

// disconnect closes the socket, hands any outstanding request to the lost list
// and rotates the local peer id for the next handshake.
func (p *Pool) disconnect(pc *peerConn, err error) {
	if pc.state == stateDisconnected {
		return
	}
	if err != nil {
		p.log.Debug("dropping peer",
			slog.String("peer", pc.addr.String()),
			slog.String("state", pc.state.String()),
			slog.Any("error", err))
	}
	if pc.conn != nil {
		pc.conn.Close()
		pc.conn = nil
	}
	if pc.lostTimer != nil {
		pc.lostTimer.Stop()
	}
	pc.lostSeq++
	if pc.inflight != nil {
		p.pieces.Lose(pc.inflight.Piece, pc.inflight.Block)
		pc.inflight = nil
	}
	pc.queue = nil
	pc.state = stateDisconnected
	p.peerID = wire.NewPeerID()
	if !p.closed {
		p.reassign()
	}
}

func bitfieldPieces(bitfield []byte, n int) []int {
	out := make([]int, 0)
	for i := 0; i < n && i/8 < len(bitfield); i++ {
		if bitfield[i/8]>>(7-uint(i%8))&1 == 1 {
			out = append(out, i)
		}
	}
	return out
}
