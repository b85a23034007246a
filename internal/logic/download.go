// Package logic drives a torrent download: it checks what is on disk, starts
// the trackers and feeds the peers they return to the peer pool.
package logic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/WendelHime/torrentstream/internal/config"
	"github.com/WendelHime/torrentstream/internal/decoder"
	"github.com/WendelHime/torrentstream/internal/p2p"
	"github.com/WendelHime/torrentstream/internal/pieces"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/WendelHime/torrentstream/internal/storage"
	"github.com/WendelHime/torrentstream/internal/tracker"
	"github.com/dustin/go-humanize"
)

const eventBuffer = 256

type Downloader interface {
	// Initialize reads and decodes the torrent and prepares its output
	// directory.
	Initialize(ctx context.Context, torrentPath string) error
	// Download fetches the named files, or all of them when none are named,
	// and returns once they are complete.
	Download(ctx context.Context, names ...string) error
	// Close cancels a running Download. It is safe to call more than once.
	Close() error
	// Events reports progress. Events are dropped when nobody keeps up.
	Events() <-chan models.Event
	Metafile() models.Metafile
}

type downloader struct {
	d      decoder.MetafileDecoder
	cfg    config.Config
	log    *slog.Logger
	events chan models.Event

	mu          sync.Mutex
	meta        models.Metafile
	store       *storage.Store
	initialized bool
	closed      bool
	cancel      context.CancelFunc
}

func NewDownloader(d decoder.MetafileDecoder, cfg config.Config, logger *slog.Logger) Downloader {
	return &downloader{
		d:      d,
		cfg:    cfg,
		log:    logger,
		events: make(chan models.Event, eventBuffer),
	}
}

func (d *downloader) Initialize(ctx context.Context, torrentPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Info("decoding metafile", slog.String("torrent", torrentPath))
	f, err := os.Open(torrentPath)
	if err != nil {
		return &storage.IOError{Op: "read", Path: torrentPath, Err: err}
	}
	defer f.Close()

	meta, err := d.d.Decode(f)
	if err != nil {
		return err
	}

	store := storage.New(meta, d.cfg.OutputDir, d.log)
	d.log.Info("creating output directory", slog.String("output_dir", store.Root()))
	if err := store.MakeDir(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta = meta
	d.store = store
	d.initialized = true
	d.log.Info("torrent loaded",
		slog.String("name", meta.Info.Name),
		slog.String("info_hash", meta.InfoHash.String()),
		slog.String("size", humanize.Bytes(uint64(meta.TotalLength()))),
		slog.Int("pieces", meta.NumPieces()),
		slog.Int("files", len(meta.Info.Files)))
	return nil
}

func (d *downloader) Metafile() models.Metafile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta
}

func (d *downloader) Events() <-chan models.Event {
	return d.events
}

func (d *downloader) emit(ev models.Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Debug("dropping event", slog.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (d *downloader) Download(ctx context.Context, names ...string) error {
	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrClosed
	case !d.initialized:
		d.mu.Unlock()
		return ErrNotInitialized
	case d.cancel != nil:
		d.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	meta, store := d.meta, d.store
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		cancel()
	}()

	report, err := store.Check(names...)
	if err != nil {
		return err
	}
	d.emit(models.FilesChecked{Size: report.Size})
	if report.Status == storage.StatusDownloaded {
		if err := store.Touch(names...); err != nil {
			return err
		}
		d.log.Info("files already downloaded", slog.Any("files", names))
		d.emit(models.Finished{})
		return nil
	}

	blocks := pieces.New(meta)
	blocks.Bootstrap(report.Bitmap)

	if err := store.Open(ctx, names...); err != nil {
		return err
	}
	defer store.Close()

	return d.run(ctx, meta, store, blocks)
}

func (d *downloader) run(ctx context.Context, meta models.Metafile, store *storage.Store, blocks *pieces.Tracker) error {
	ctx, cancel := context.WithCancel(ctx)
	discovered := make(chan []models.Addr, 16)
	var pool *p2p.Pool

	trackers, err := tracker.NewClient(meta, d.cfg, tracker.Options{
		OnPeers: func(_ string, peers []models.Addr) {
			select {
			case discovered <- peers:
			case <-ctx.Done():
			}
		},
		Progress: func() (int64, int64) { return pool.Progress() },
	}, d.log)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	sessions := len(trackers.Sessions())

	pool = p2p.NewPool(p2p.Options{
		Meta:             meta,
		Pieces:           blocks,
		Store:            store,
		Config:           d.cfg,
		MaxEmptyConnects: d.cfg.MaxEmptyConnects(sessions),
		Emit:             d.emit,
	}, d.log)
	defer pool.Close()
	defer trackers.Close()
	// Unblocks OnPeers before trackers.Close waits for its announces.
	defer cancel()

	trackers.Start(ctx)
	exhausted := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pool.Done():
			downloaded, _ := pool.Progress()
			d.log.Info("download finished", slog.String("downloaded", humanize.Bytes(uint64(downloaded))))
			d.emit(models.Finished{})
			return nil
		case err := <-pool.Err():
			return err
		case f := <-trackers.Failures():
			d.emit(models.ConnectFailed{URL: f.URL, Err: f.Err})
			if !f.Exhausted {
				continue
			}
			exhausted[f.URL] = struct{}{}
			if len(exhausted) == sessions {
				d.log.Error("every tracker failed", slog.Int("trackers", sessions))
				return ErrConnect
			}
		case peers := <-discovered:
			added := pool.Add(peers)
			d.emit(models.PeersAdded{Count: added})
			if err := pool.Connect(ctx); err != nil {
				return err
			}
			trackers.Rerequest()
		}
	}
}

// Close cancels the running download, if any. Files are closed by the
// download itself as it returns.
func (d *downloader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}
