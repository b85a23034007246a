package integration

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/WendelHime/torrentstream/internal/config"
	"github.com/WendelHime/torrentstream/internal/decoder"
	"github.com/WendelHime/torrentstream/internal/logic"
	"github.com/WendelHime/torrentstream/internal/shared/fixtures"
	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/cucumber/godog"
)

type IntegrationTest struct {
	Downloader logic.Downloader
	torrent    fixtures.Torrent
	meta       models.Metafile
	outputDir  string
	seeder     *fixtures.Seeder
	tracker    *httptest.Server
	err        error
}

func (i *IntegrationTest) iHaveATorrent(name string, pieceLength int, table *godog.Table) error {
	i.torrent = fixtures.Torrent{
		Name:        name,
		PieceLength: pieceLength,
		Announce:    "http://placeholder.example.com/announce",
	}
	for n, row := range table.Rows[1:] {
		size, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return err
		}
		i.torrent.Files = append(i.torrent.Files, fixtures.File{
			Path: strings.Split(row.Cells[0].Value, "/"),
			Data: fixtures.Pattern(size, byte(n+1)),
		})
	}
	raw, err := i.torrent.Encode()
	if err != nil {
		return err
	}
	i.meta, err = decoder.NewDecoder().Decode(bytes.NewReader(raw))
	return err
}

func (i *IntegrationTest) aSeederServingTheTorrent() error {
	seeder, err := fixtures.NewSeeder(i.meta, i.torrent.Content())
	if err != nil {
		return err
	}
	i.seeder = seeder
	return nil
}

func (i *IntegrationTest) aTrackerAnnouncingTheSeeder() error {
	var peers []models.Addr
	if i.seeder != nil {
		peers = append(peers, i.seeder.Addr())
	}
	i.tracker = httptest.NewServer(fixtures.TrackerHandler(1800, peers...))
	return nil
}

func (i *IntegrationTest) aTrackerThatAlwaysFails() error {
	i.tracker = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	return nil
}

func (i *IntegrationTest) theFileIsAlreadyDownloaded(name string) error {
	for _, f := range i.torrent.Files {
		if filepath.Join(f.Path...) != name {
			continue
		}
		path := i.outputPath(name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, f.Data, 0o644)
	}
	return fmt.Errorf("no file %q in torrent", name)
}

func (i *IntegrationTest) iDownloadTheFiles(names string) error {
	i.torrent.Announce = "http://placeholder.example.com/announce"
	if i.tracker != nil {
		i.torrent.Announce = i.tracker.URL + "/announce"
	}
	raw, err := i.torrent.Encode()
	if err != nil {
		return err
	}
	torrentPath := filepath.Join(i.outputDir, "sample.torrent")
	if err := os.WriteFile(torrentPath, raw, 0o644); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := i.Downloader.Initialize(ctx, torrentPath); err != nil {
		return err
	}
	var selected []string
	if names != "" {
		selected = strings.Split(names, ",")
	}
	i.err = i.Downloader.Download(ctx, selected...)
	return nil
}

func (i *IntegrationTest) iDownloadAllFiles() error {
	return i.iDownloadTheFiles("")
}

func (i *IntegrationTest) theDownloadShouldSucceed() error {
	return i.err
}

func (i *IntegrationTest) theDownloadShouldFailWithCode(code string) error {
	if i.err == nil {
		return fmt.Errorf("expected error with code %s", code)
	}
	if got := logic.ErrorCode(i.err); got != code {
		return fmt.Errorf("expected code %s, got %q (%v)", code, got, i.err)
	}
	return nil
}

func (i *IntegrationTest) theOutputHashShouldMatch(name string) error {
	var expected []byte
	for _, f := range i.torrent.Files {
		if filepath.Join(f.Path...) == name {
			expected = f.Data
		}
	}
	output, err := os.Open(i.outputPath(name))
	if err != nil {
		return err
	}
	defer output.Close()

	hash := sha1.New()
	if _, err := io.Copy(hash, output); err != nil {
		return err
	}
	want := sha1.Sum(expected)
	if got := hex.EncodeToString(hash.Sum(nil)); got != hex.EncodeToString(want[:]) {
		return fmt.Errorf("hashes do not match for %s", name)
	}
	return nil
}

func (i *IntegrationTest) theFileShouldExist(name string) error {
	_, err := os.Stat(i.outputPath(name))
	return err
}

func (i *IntegrationTest) outputPath(name string) string {
	return filepath.Join(i.outputDir, i.torrent.Name, name)
}

func (i *IntegrationTest) cleanup() {
	if i.Downloader != nil {
		i.Downloader.Close()
	}
	if i.tracker != nil {
		i.tracker.Close()
	}
	if i.seeder != nil {
		i.seeder.Close()
	}
	os.RemoveAll(i.outputDir)
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	i := &IntegrationTest{}
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		dir, err := os.MkdirTemp("", "torrentstream-*")
		if err != nil {
			return ctx, err
		}
		*i = IntegrationTest{outputDir: dir}
		cfg := config.Default()
		cfg.OutputDir = dir
		cfg.TrackerRetries = 0
		cfg.TrackerTimeout = 2 * time.Second
		cfg.DialsPerSecond = 0
		i.Downloader = logic.NewDownloader(decoder.NewDecoder(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		i.cleanup()
		return ctx, nil
	})

	ctx.Step(`^I have a torrent "([^"]*)" with piece length (\d+) and files:$`, i.iHaveATorrent)
	ctx.Step(`^a seeder serving the torrent$`, i.aSeederServingTheTorrent)
	ctx.Step(`^a tracker announcing the seeder$`, i.aTrackerAnnouncingTheSeeder)
	ctx.Step(`^a tracker that always fails$`, i.aTrackerThatAlwaysFails)
	ctx.Step(`^the file "([^"]*)" is already downloaded$`, i.theFileIsAlreadyDownloaded)
	ctx.Step(`^I download the files$`, i.iDownloadAllFiles)
	ctx.Step(`^I download the files "([^"]*)"$`, i.iDownloadTheFiles)
	ctx.Step(`^the download should succeed$`, i.theDownloadShouldSucceed)
	ctx.Step(`^the download should fail with code "([^"]*)"$`, i.theDownloadShouldFailWithCode)
	ctx.Step(`^the output hash of "([^"]*)" should match$`, i.theOutputHashShouldMatch)
	ctx.Step(`^the file "([^"]*)" should exist$`, i.theFileShouldExist)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
