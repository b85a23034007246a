// Package tracker announces a torrent to its trackers and reports the peers
// they return. Each announce URL gets its own Session.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/WendelHime/torrentstream/internal/config"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/WendelHime/torrentstream/internal/wire"
	"github.com/cenkalti/backoff/v5"
)

type Protocol string

const (
	ProtocolUDP  Protocol = "udp"
	ProtocolHTTP Protocol = "http"
)

var ErrNoTrackers = errors.New("no usable tracker")

// Failure reports a failed announce. Exhausted is set once the session has
// used up its retries and will not announce again on its own.
type Failure struct {
	URL       string
	Err       error
	Exhausted bool
}

type Options struct {
	// OnPeers receives the peers of every successful announce.
	OnPeers func(url string, peers []models.Addr)
	// Progress supplies the downloaded and left counters sent on announces.
	Progress func() (downloaded, left int64)
}

// Session is the announce state of one tracker URL. Fields are guarded by the
// owning Client's lock.
type Session struct {
	url      *url.URL
	protocol Protocol
	interval time.Duration
	failed   bool
	attempts int
	// announced is set after the first successful announce, which carries the
	// started event.
	announced  bool
	exhausted  bool
	running    bool
	connID     uint64
	connIssued time.Time
	timer      *time.Timer
	backoff    *backoff.ExponentialBackOff
}

func (s *Session) URL() string { return s.url.String() }

func (s *Session) Protocol() Protocol { return s.protocol }

type announceResult struct {
	interval time.Duration
	peers    []models.Addr
}

type Client struct {
	mu       sync.Mutex
	meta     models.Metafile
	cfg      config.Config
	opts     Options
	log      *slog.Logger
	http     *http.Client
	peerID   [20]byte
	key      uint32
	sessions []*Session
	failures chan Failure

	ctx        context.Context
	cancel     context.CancelFunc
	stopOnDone func() bool
	wg         sync.WaitGroup
	closed     bool
}

// NewClient builds one session per announce URL of meta. Announce-list entries
// pointing at local hosts are dropped, as are unsupported schemes.
func NewClient(meta models.Metafile, cfg config.Config, opts Options, logger *slog.Logger) (*Client, error) {
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	if opts.OnPeers == nil {
		opts.OnPeers = func(string, []models.Addr) {}
	}
	if opts.Progress == nil {
		total := meta.TotalLength()
		opts.Progress = func() (int64, int64) { return 0, total }
	}

	c := &Client{
		meta:   meta,
		cfg:    cfg,
		opts:   opts,
		log:    logger,
		http:   httpClient,
		peerID: wire.NewPeerID(),
		key:    wire.NewTransactionID(),
	}
	for _, raw := range meta.Announces() {
		u, err := url.Parse(raw)
		if err != nil {
			logger.Warn("skipping malformed announce url", slog.String("announce-url", raw), slog.Any("error", err))
			continue
		}
		if raw != meta.Announce && isLocal(u.Hostname()) {
			logger.Debug("skipping local tracker", slog.String("announce-url", raw))
			continue
		}
		var protocol Protocol
		switch u.Scheme {
		case "udp":
			protocol = ProtocolUDP
		case "http", "https":
			protocol = ProtocolHTTP
		default:
			logger.Warn("unsupported protocol", slog.String("announce-url", raw))
			continue
		}
		c.sessions = append(c.sessions, &Session{url: u, protocol: protocol, backoff: c.newBackoff()})
	}
	if len(c.sessions) == 0 {
		return nil, ErrNoTrackers
	}
	c.failures = make(chan Failure, len(c.sessions))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// WithHTTPClient replaces the client used for HTTP announces.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client
	return c
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.TrackerRetryInterval > 0 {
		b.InitialInterval = c.cfg.TrackerRetryInterval
	}
	b.MaxInterval = max(b.InitialInterval, c.cfg.MinAnnounceInterval)
	b.Reset()
	return b
}

func isLocal(host string) bool {
	if strings.Contains(strings.ToLower(host), "local") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Client) Sessions() []*Session {
	return c.sessions
}

// Failures delivers every failed announce.
func (c *Client) Failures() <-chan Failure {
	return c.failures
}

// Start announces on every session in the background.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopOnDone = context.AfterFunc(ctx, func() { c.Close() })
	for _, s := range c.sessions {
		c.schedule(s, 0)
	}
}

// Rerequest moves every live session's next announce to one interval from
// now, dropping any timer already armed.
func (c *Client) Rerequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, s := range c.sessions {
		if s.exhausted || s.failed {
			continue
		}
		c.schedule(s, max(s.interval, c.cfg.MinAnnounceInterval))
	}
}

// schedule arms the session's announce timer. The caller holds c.mu.
func (c *Client) schedule(s *Session, after time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(after, func() { c.announce(s) })
}

func (c *Client) announce(s *Session) {
	c.mu.Lock()
	if c.closed || s.running {
		c.mu.Unlock()
		return
	}
	s.running = true
	first := !s.announced
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TrackerTimeout)
	defer cancel()

	var (
		res announceResult
		err error
	)
	switch s.protocol {
	case ProtocolUDP:
		res, err = c.announceUDP(ctx, s, first)
	case ProtocolHTTP:
		res, err = c.announceHTTP(ctx, s, first)
	}

	c.mu.Lock()
	s.running = false
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		s.failed = true
		s.attempts++
		next := s.backoff.NextBackOff()
		s.exhausted = s.attempts > c.cfg.TrackerRetries || next == backoff.Stop
		if !s.exhausted {
			c.schedule(s, next)
		}
		failure := Failure{URL: s.URL(), Err: err, Exhausted: s.exhausted}
		attempts := s.attempts
		c.mu.Unlock()

		c.log.Warn("failed to announce",
			slog.String("announce-url", failure.URL),
			slog.Int("attempt", attempts),
			slog.Bool("exhausted", failure.Exhausted),
			slog.Any("error", err))
		select {
		case c.failures <- failure:
		case <-c.ctx.Done():
		}
		return
	}

	s.failed = false
	s.attempts = 0
	s.announced = true
	s.backoff.Reset()
	s.interval = max(res.interval, c.cfg.MinAnnounceInterval)
	c.schedule(s, s.interval)
	interval := s.interval
	c.mu.Unlock()

	c.log.Info("retrieved peers",
		slog.String("announce-url", s.URL()),
		slog.Int("peers", len(res.peers)),
		slog.Duration("interval", interval))
	c.opts.OnPeers(s.URL(), res.peers)
}

// Close stops every timer and waits for running announces. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	if c.stopOnDone != nil {
		c.stopOnDone()
	}
	for _, s := range c.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
