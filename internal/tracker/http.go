package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/WendelHime/torrentstream/internal/config"
	"github.com/WendelHime/torrentstream/internal/wire"
	"github.com/jackpal/bencode-go"
	"golang.org/x/net/proxy"
)

const userAgent = "torrentstream/0.1"

var ErrStatus = errors.New("unexpected tracker status")

type peersResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

// newHTTPClient builds the announce client. With a proxy configured every
// connection is dialed through it.
func newHTTPClient(cfg config.Config) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	}
	return &http.Client{Timeout: cfg.TrackerTimeout, Transport: transport}, nil
}

func (c *Client) announceHTTP(ctx context.Context, s *Session, first bool) (announceResult, error) {
	downloaded, left := c.opts.Progress()
	params := wire.AnnounceParams{
		InfoHash:   c.meta.InfoHash,
		PeerID:     c.peerID,
		Port:       c.cfg.Port,
		Downloaded: downloaded,
		Left:       left,
		NumWant:    c.cfg.NumWant,
	}
	if first {
		params.Event = wire.EventStarted
	}

	u := *s.url
	query := wire.AnnounceQuery(params)
	if u.RawQuery != "" {
		u.RawQuery += "&" + query
	} else {
		u.RawQuery = query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return announceResult{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	response, err := c.http.Do(req)
	if err != nil {
		return announceResult{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return announceResult{}, fmt.Errorf("%w: %s", ErrStatus, response.Status)
	}

	var body peersResponse
	if err := bencode.Unmarshal(response.Body, &body); err != nil {
		return announceResult{}, fmt.Errorf("decode tracker response: %w", err)
	}
	if body.FailureReason != "" {
		return announceResult{}, &wire.TrackerError{Message: body.FailureReason}
	}
	peers, err := wire.ParseCompactPeers([]byte(body.Peers))
	if err != nil {
		return announceResult{}, err
	}
	return announceResult{
		interval: time.Duration(body.Interval) * time.Second,
		peers:    peers,
	}, nil
}
