// Package storage places torrent content into its on-disk file layout. Blocks
// are written straight into their final file positions.
package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/WendelHime/torrentstream/internal/shared/models"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusPartial    Status = "partial"
	StatusEmpty      Status = "empty"
)

// Report is the outcome of Check.
type Report struct {
	Status Status
	// Size is the number of bytes already on disk for the selected files.
	Size int64
	Left int64
	// Bitmap holds, per piece and block, whether the block is present.
	Bitmap [][]bool
}

// Store is not safe for concurrent use. Callers serialize Write and Progress.
type Store struct {
	meta    models.Metafile
	root    string
	regions []*Region
	log     *slog.Logger

	written    [][]bool
	remaining  int
	downloaded int64
	left       int64
	closed     bool

	// reads counts block reads done by Check.
	reads int
}

func New(meta models.Metafile, outputDir string, logger *slog.Logger) *Store {
	root := outputDir
	if !meta.Info.SingleFile {
		root = filepath.Join(outputDir, meta.Info.Name)
	}
	return &Store{
		meta:    meta,
		root:    root,
		regions: regions(meta, root),
		log:     logger,
	}
}

// Root is the directory the torrent's files are placed under.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) Regions() []Region {
	out := make([]Region, len(s.regions))
	for i, r := range s.regions {
		out[i] = *r
		out[i].handle = nil
	}
	return out
}

func (s *Store) MakeDir() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: s.root, Err: err}
	}
	return nil
}

// selectRegions returns the regions named, or every region when names is empty.
func (s *Store) selectRegions(names []string) ([]*Region, error) {
	if len(names) == 0 {
		return s.regions, nil
	}
	selected := make([]*Region, 0, len(names))
	for _, name := range names {
		r := s.region(name)
		if r == nil {
			return nil, &WrongFileError{Name: name}
		}
		selected = append(selected, r)
	}
	return selected, nil
}

func (s *Store) region(name string) *Region {
	clean := filepath.Clean(filepath.FromSlash(name))
	for _, r := range s.regions {
		if r.Name == clean {
			return r
		}
	}
	return nil
}

// Check inspects the selected files on disk. Blocks of files not selected are
// reported present so they are never requested. A file whose size matches its
// declared length is taken as complete without reading it.
func (s *Store) Check(names ...string) (Report, error) {
	selected, err := s.selectRegions(names)
	if err != nil {
		return Report{}, err
	}

	bitmap := make([][]bool, s.meta.NumPieces())
	for p := range bitmap {
		bitmap[p] = make([]bool, s.meta.BlockCount(p))
		for b := range bitmap[p] {
			bitmap[p][b] = true
		}
	}

	var size, left int64
	for _, r := range selected {
		if err := s.checkRegion(r, bitmap); err != nil {
			return Report{}, err
		}
		size += r.Size
		left += r.Length - r.Size
	}

	report := Report{Size: size, Left: left, Bitmap: bitmap}
	switch {
	case left == 0:
		report.Status = StatusDownloaded
	case size == 0:
		report.Status = StatusEmpty
	default:
		report.Status = StatusPartial
	}

	s.written = make([][]bool, len(bitmap))
	s.remaining = 0
	for p := range bitmap {
		s.written[p] = append([]bool(nil), bitmap[p]...)
		for _, present := range bitmap[p] {
			if !present {
				s.remaining++
			}
		}
	}
	s.left = left
	s.downloaded = 0
	for _, r := range s.regions {
		r.parts = nil
	}

	s.log.Info("files checked",
		slog.String("status", string(report.Status)),
		slog.String("size", humanize.Bytes(uint64(size))),
		slog.String("left", humanize.Bytes(uint64(left))),
		slog.Int("missing_blocks", s.remaining))
	return report, nil
}

func (s *Store) checkRegion(r *Region, bitmap [][]bool) error {
	info, err := os.Stat(r.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		r.Size = 0
	case err != nil:
		return &IOError{Op: "stat", Path: r.Path, Err: err}
	default:
		r.Size = min(info.Size(), r.Length)
	}

	if r.Size == r.Length {
		return nil
	}
	if r.Size == 0 {
		r.eachBlock(s.meta, func(p, b int, _, _ int64) {
			bitmap[p][b] = false
		})
		return nil
	}

	f, err := os.Open(r.Path)
	if err != nil {
		return &IOError{Op: "read", Path: r.Path, Err: err}
	}
	defer f.Close()

	buf := make([]byte, models.BlockSize)
	var readErr error
	r.eachBlock(s.meta, func(p, b int, start, end int64) {
		if readErr != nil {
			return
		}
		lo, hi, _ := r.overlap(start, end)
		s.reads++
		n, err := f.ReadAt(buf[:hi-lo], lo)
		if err != nil && !errors.Is(err, io.EOF) {
			readErr = &IOError{Op: "read", Path: r.Path, Err: err}
			return
		}
		if int64(n) < hi-lo {
			bitmap[p][b] = false
		}
	})
	return readErr
}

// Open prepares write handles for every selected file that Check found
// incomplete. Partial files keep their bytes: the file is moved aside, the
// original name is recreated and the old bytes are copied back.
func (s *Store) Open(ctx context.Context, names ...string) error {
	selected, err := s.selectRegions(names)
	if err != nil {
		return err
	}
	s.closed = false

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range selected {
		if r.Length == 0 {
			r := r
			g.Go(func() error { return touch(r.Path) })
			continue
		}
		if r.Size == r.Length || r.handle != nil {
			continue
		}
		r := r
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.openRegion(r)
		})
	}
	return g.Wait()
}

// Touch creates every selected zero-length file missing from disk. Open does
// the same; Touch serves selections that need no download at all.
func (s *Store) Touch(names ...string) error {
	selected, err := s.selectRegions(names)
	if err != nil {
		return err
	}
	for _, r := range selected {
		if r.Length > 0 {
			continue
		}
		if err := touch(r.Path); err != nil {
			return err
		}
	}
	return nil
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	return f.Close()
}

func (s *Store) openRegion(r *Region) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: filepath.Dir(r.Path), Err: err}
	}

	if r.Size == 0 {
		f, err := os.OpenFile(r.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return &IOError{Op: "open", Path: r.Path, Err: err}
		}
		r.handle = f
		return nil
	}

	temp := r.Path + "(temp)"
	if err := os.Rename(r.Path, temp); err != nil {
		return &IOError{Op: "rename", Path: r.Path, Err: err}
	}
	f, err := os.OpenFile(r.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &IOError{Op: "open", Path: r.Path, Err: err}
	}
	old, err := os.Open(temp)
	if err != nil {
		f.Close()
		return &IOError{Op: "read", Path: temp, Err: err}
	}
	_, err = io.Copy(f, old)
	old.Close()
	if err != nil {
		f.Close()
		return &IOError{Op: "write", Path: r.Path, Err: err}
	}
	if err := os.Remove(temp); err != nil {
		f.Close()
		return &IOError{Op: "remove", Path: temp, Err: err}
	}
	s.log.Debug("reopened partial file", slog.String("path", r.Path), slog.String("kept", humanize.Bytes(uint64(r.Size))))
	r.handle = f
	return nil
}

// Write stores a block at its final position in every open file it spans and
// reports whether all wanted blocks are now written. Repeated writes of a block
// are ignored.
func (s *Store) Write(block models.Block) (bool, error) {
	return s.write(block, s.regions, true)
}

// WriteFile writes only the part of block that falls in the named file. The
// block is recorded as written once every open file it spans holds its part.
func (s *Store) WriteFile(name string, block models.Block) (bool, error) {
	r := s.region(name)
	if r == nil {
		return false, &WrongFileError{Name: name}
	}
	return s.write(block, []*Region{r}, false)
}

func (s *Store) write(block models.Block, targets []*Region, whole bool) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	if s.written == nil {
		return false, ErrNotChecked
	}
	if err := s.validate(block); err != nil {
		return false, err
	}
	p, b := block.Index, block.BlockIndex()
	if s.written[p][b] {
		return s.remaining == 0, nil
	}

	start := s.meta.Offset(block.Index, block.Begin)
	end := start + int64(len(block.Data))
	var n int64
	for _, r := range targets {
		if r.handle == nil {
			continue
		}
		lo, hi, ok := r.overlap(start, end)
		if !ok || r.hasPart(p, b) {
			continue
		}
		from := r.Start + lo - start
		if _, err := r.handle.WriteAt(block.Data[from:from+hi-lo], lo); err != nil {
			s.downloaded += n
			s.left = max(s.left-n, 0)
			return false, &IOError{Op: "write", Path: r.Path, Err: err}
		}
		r.addPart(p, b)
		n += hi - lo
	}
	s.downloaded += n
	s.left = max(s.left-n, 0)

	if whole || s.spanned(p, b, start, end) {
		s.written[p][b] = true
		s.remaining--
	}
	return s.remaining == 0, nil
}

// spanned reports whether every open file overlapping [start, end) holds its
// part of block b of piece p.
func (s *Store) spanned(p, b int, start, end int64) bool {
	for _, r := range s.regions {
		if r.handle == nil {
			continue
		}
		if _, _, ok := r.overlap(start, end); ok && !r.hasPart(p, b) {
			return false
		}
	}
	return true
}

func (s *Store) validate(block models.Block) error {
	p := block.Index
	if p < 0 || p >= s.meta.NumPieces() || block.Begin < 0 || block.Begin%models.BlockSize != 0 {
		return ErrInvalidBlock
	}
	b := block.BlockIndex()
	if b >= s.meta.BlockCount(p) || len(block.Data) != s.meta.BlockSize(p, b) {
		return ErrInvalidBlock
	}
	return nil
}

// Progress returns the bytes written this session and the bytes still missing.
func (s *Store) Progress() (downloaded, left int64) {
	return s.downloaded, s.left
}

// Complete reports whether every wanted block has been written.
func (s *Store) Complete() bool {
	return s.written != nil && s.remaining == 0
}

// Close releases every file handle. It is safe to call more than once; a later
// Open reopens the files.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, r := range s.regions {
		if r.handle == nil {
			continue
		}
		if err := r.handle.Close(); err != nil {
			errs = append(errs, &IOError{Op: "close", Path: r.Path, Err: err})
		}
		r.handle = nil
	}
	return errors.Join(errs...)
}
