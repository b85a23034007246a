// Package p2p runs the peer wire protocol against every known peer of a
// torrent. A Pool owns the lock that serializes all piece bookkeeping and disk
// writes for its torrent.
package p2p

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/WendelHime/torrentstream/internal/config"
	"github.com/WendelHime/torrentstream/internal/pieces"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/WendelHime/torrentstream/internal/wire"
	"golang.org/x/time/rate"
)

// BlockWriter persists received blocks.
type BlockWriter interface {
	Write(models.Block) (complete bool, err error)
	Progress() (downloaded, left int64)
}

type Options struct {
	Meta   models.Metafile
	Pieces *pieces.Tracker
	Store  BlockWriter
	Config config.Config
	// MaxEmptyConnects is the number of Connect cycles allowed to pass without
	// any unchoked peer.
	MaxEmptyConnects int
	// Emit receives PieceWritten events. It is called with the pool lock held
	// and must not block.
	Emit func(models.Event)
}

type Pool struct {
	mu      sync.Mutex
	meta    models.Metafile
	pieces  *pieces.Tracker
	store   BlockWriter
	cfg     config.Config
	emit    func(models.Event)
	log     *slog.Logger
	limiter *rate.Limiter
	dialer  net.Dialer

	peerID [20]byte
	peers  []*peerConn
	index  map[string]int

	connects         int
	maxEmptyConnects int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
	errc     chan error
	errOnce  sync.Once
}

func NewPool(opts Options, logger *slog.Logger) *Pool {
	limit := rate.Inf
	if opts.Config.DialsPerSecond > 0 {
		limit = rate.Limit(opts.Config.DialsPerSecond)
	}
	emit := opts.Emit
	if emit == nil {
		emit = func(models.Event) {}
	}
	maxEmpty := opts.MaxEmptyConnects
	if maxEmpty <= 0 {
		maxEmpty = opts.Config.MaxEmptyConnects(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		meta:             opts.Meta,
		pieces:           opts.Pieces,
		store:            opts.Store,
		cfg:              opts.Config,
		emit:             emit,
		log:              logger,
		limiter:          rate.NewLimiter(limit, 1),
		dialer:           net.Dialer{Timeout: opts.Config.DialTimeout},
		peerID:           wire.NewPeerID(),
		index:            make(map[string]int),
		maxEmptyConnects: maxEmpty,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
		errc:             make(chan error, 1),
	}
}

// Add registers peers not seen before and returns how many were new.
func (p *Pool) Add(addrs []models.Addr) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, addr := range addrs {
		if addr.IP == nil || addr.IP.IsUnspecified() || addr.Port == 0 {
			continue
		}
		key := addr.String()
		if _, ok := p.index[key]; ok {
			continue
		}
		p.index[key] = len(p.peers)
		p.peers = append(p.peers, &peerConn{addr: addr, state: stateDisconnected, have: roaring.New()})
		added++
	}
	return added
}

// Len is the number of known peers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Connect dials every known peer without a live connection. Each call is one
// connect cycle; once more than MaxEmptyConnects cycles pass with no unchoked
// peer, ErrExhausted is returned.
func (p *Pool) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	if p.connects >= p.maxEmptyConnects {
		if !p.anyUnchoked() {
			p.log.Warn("no peer unchoked", slog.Int("connect_cycles", p.connects))
			return ErrExhausted
		}
		p.connects = 0
	} else {
		p.connects++
	}

	dialed := 0
	for _, pc := range p.peers {
		if pc.state != stateDisconnected {
			continue
		}
		pc.reset()
		pc.state = stateConnecting
		dialed++
		p.wg.Add(1)
		go p.run(pc)
	}
	p.log.Debug("connecting to peers", slog.Int("dialed", dialed), slog.Int("known", len(p.peers)))
	return nil
}

func (p *Pool) anyUnchoked() bool {
	for _, pc := range p.peers {
		if pc.state == stateUnchoked {
			return true
		}
	}
	return false
}

// Done is closed once every wanted block has been written.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Err delivers the first disk failure. Such failures end the download.
func (p *Pool) Err() <-chan error {
	return p.errc
}

// Progress reads the store counters under the pool lock.
func (p *Pool) Progress() (downloaded, left int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Progress()
}

func (p *Pool) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Pool) fail(err error) {
	p.errOnce.Do(func() { p.errc <- err })
}

// Close drops every connection and waits for the connection goroutines. It is
// safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	for _, pc := range p.peers {
		p.disconnect(pc, nil)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
