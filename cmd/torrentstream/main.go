package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WendelHime/torrentstream/internal/config"
	"github.com/WendelHime/torrentstream/internal/decoder"
	"github.com/WendelHime/torrentstream/internal/logic"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/alexflint/go-arg"
	"github.com/schollz/progressbar/v3"
)

type args struct {
	Torrent     string        `arg:"positional,required" help:"torrent file to download"`
	Files       []string      `arg:"positional" help:"files to download, all when omitted"`
	Output      string        `arg:"-o,--output" default:"." help:"output directory"`
	Proxy       string        `arg:"--proxy" help:"SOCKS5 proxy URL used for HTTP trackers"`
	LostTimeout time.Duration `arg:"--lost-timeout" default:"3s" help:"time a peer has to answer a block request"`
	Retries     int           `arg:"--tracker-retries" default:"5" help:"announce retries per tracker"`
	LogFile     string        `arg:"--log-file" default:"log.txt" help:"file receiving JSON logs"`
	LogLevel    string        `arg:"--log-level" default:"error" help:"debug, info, warn or error"`
}

func (args) Description() string {
	return "torrentstream downloads the files of a torrent from its peers.\n" +
		"Pieces are not checked against their hashes: files already on disk count as complete when their size matches."
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if code := logic.ErrorCode(err); code != "" {
			fmt.Fprintf(os.Stderr, "code: %s\n", code)
		}
		os.Exit(1)
	}
}

func run() error {
	var a args
	arg.MustParse(&a)

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logOut, err := os.Create(a.LogFile)
	if err != nil {
		return err
	}
	defer logOut.Close()
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	cfg.OutputDir = a.Output
	cfg.ProxyURL = a.Proxy
	cfg.LostTimeout = a.LostTimeout
	cfg.TrackerRetries = a.Retries

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	downloader := logic.NewDownloader(decoder.NewDecoder(), cfg, logger)
	defer downloader.Close()
	if err := downloader.Initialize(ctx, a.Torrent); err != nil {
		logger.Error("failed to load torrent", slog.Any("error", err))
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		report(downloader.Events(), selectedLength(downloader.Metafile(), a.Files), ctx.Done())
	}()

	err = downloader.Download(ctx, a.Files...)
	stop()
	<-done
	if err != nil {
		logger.Error("failed to download torrent", slog.Any("error", err))
		return err
	}
	return nil
}

func selectedLength(meta models.Metafile, names []string) int64 {
	if len(names) == 0 {
		return meta.TotalLength()
	}
	var total int64
	for _, f := range meta.Info.Files {
		for _, name := range names {
			if f.Name() == name {
				total += int64(f.Length)
				break
			}
		}
	}
	return total
}

// report renders events on a progress bar until the download finishes or
// stop is closed.
func report(events <-chan models.Event, total int64, stop <-chan struct{}) {
	bar := progressbar.DefaultBytes(total, "checking files")
	defer bar.Finish()
	for {
		select {
		case <-stop:
			return
		case ev := <-events:
			switch ev := ev.(type) {
			case models.FilesChecked:
				bar.Describe("downloading")
				bar.Set64(ev.Size)
			case models.PieceWritten:
				bar.Add(ev.Size)
			case models.PeersAdded:
				bar.Describe(fmt.Sprintf("downloading (%d new peers)", ev.Count))
			case models.ConnectFailed:
				bar.Describe("tracker failed: " + ev.URL)
			case models.Finished:
				bar.Set64(total)
				return
			}
		}
	}
}
