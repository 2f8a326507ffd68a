// Package checkpoint persists stage outputs to a local directory so a later
// stage, or a later run, can recover when its in-memory input is empty.
package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/review"
)

// Checkpoint kinds.
const (
	RawPrefix       = "extract_raw"
	RawExt          = ".json"
	DocumentsPrefix = "reviews"
	DocumentsExt    = ".jsonl"

	timestampLayout = "20060102_150405"
	maxLineBytes    = 16 << 20
)

// ErrNoCheckpoint is returned when no checkpoint of the requested kind exists.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Mirror receives a copy of every checkpoint written.
type Mirror interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config captures the checkpoint store parameters.
type Config struct {
	Dir          string
	Mirror       Mirror
	MirrorPrefix string
	// Clock names checkpoint files; defaults to the wall clock.
	Clock review.Clock
}

// Info describes one checkpoint file.
type Info struct {
	Path      string
	Timestamp time.Time
	ModTime   time.Time
}

// Store reads and writes checkpoint files.
type Store struct {
	dir          string
	mirror       Mirror
	mirrorPrefix string
	now          func() time.Time
	logger       *zap.Logger
}

// New creates the directory if needed and verifies it is writable.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat checkpoint directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("checkpoint path %s is not a directory", cfg.Dir)
	}

	probe := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("checkpoint directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock.Now
	}
	return &Store{
		dir:          cfg.Dir,
		mirror:       cfg.Mirror,
		mirrorPrefix: cfg.MirrorPrefix,
		now:          now,
		logger:       logger,
	}, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveBatches writes raw extraction output as an indented JSON array.
func (s *Store) SaveBatches(ctx context.Context, batches []review.RawReviewBatch) (string, error) {
	if batches == nil {
		batches = []review.RawReviewBatch{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(batches); err != nil {
		return "", fmt.Errorf("encode raw batches: %w", err)
	}
	return s.write(ctx, RawPrefix, RawExt, "application/json", buf.Bytes())
}

// SaveDocuments writes normalized documents as JSON lines.
func (s *Store) SaveDocuments(ctx context.Context, docs []review.Document) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range docs {
		if err := enc.Encode(docs[i]); err != nil {
			return "", fmt.Errorf("encode document %d: %w", i, err)
		}
	}
	return s.write(ctx, DocumentsPrefix, DocumentsExt, "application/x-ndjson", buf.Bytes())
}

func (s *Store) write(ctx context.Context, prefix, ext, contentType string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s%s", prefix, s.now().UTC().Format(timestampLayout), ext)
	target := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("rename checkpoint: %w", err)
	}
	s.logger.Info("checkpoint written", zap.String("path", target), zap.Int("bytes", len(data)))

	if s.mirror != nil {
		uri, err := s.mirror.PutObject(ctx, path.Join(s.mirrorPrefix, name), contentType, bytes.NewReader(data))
		if err != nil {
			s.logger.Warn("checkpoint mirror failed", zap.String("path", target), zap.Error(err))
		} else {
			s.logger.Info("checkpoint mirrored", zap.String("uri", uri))
		}
	}
	return target, nil
}

// Latest returns the newest checkpoint for prefix and ext. Files are ordered
// by the timestamp in their name; modification time breaks ties and stands in
// for files whose name carries no timestamp.
func (s *Store) Latest(prefix, ext string) (Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Info{}, fmt.Errorf("read checkpoint directory: %w", err)
	}
	pattern := namePattern(prefix, ext)

	var (
		best  Info
		found bool
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		candidate := Info{Path: filepath.Join(s.dir, name), ModTime: fi.ModTime(), Timestamp: fi.ModTime()}
		if m := pattern.FindStringSubmatch(name); m != nil {
			if ts, err := time.ParseInLocation(timestampLayout, m[1], time.UTC); err == nil {
				candidate.Timestamp = ts
			}
		} else if !strings.HasPrefix(name, prefix) {
			continue
		}
		if !found || newer(candidate, best) {
			best, found = candidate, true
		}
	}
	if !found {
		return Info{}, fmt.Errorf("%w: %s*%s in %s", ErrNoCheckpoint, prefix, ext, s.dir)
	}
	return best, nil
}

// Names are stamped in UTC.
var namePatterns = map[string]*regexp.Regexp{
	RawPrefix + RawExt:             compileNamePattern(RawPrefix, RawExt),
	DocumentsPrefix + DocumentsExt: compileNamePattern(DocumentsPrefix, DocumentsExt),
}

func namePattern(prefix, ext string) *regexp.Regexp {
	if re, ok := namePatterns[prefix+ext]; ok {
		return re
	}
	return compileNamePattern(prefix, ext)
}

func compileNamePattern(prefix, ext string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_(\d{8}_\d{6})` + regexp.QuoteMeta(ext) + `$`)
}

func newer(a, b Info) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ModTime.After(b.ModTime)
}

// LoadLatestBatches loads the newest raw extraction checkpoint.
func (s *Store) LoadLatestBatches() ([]review.RawReviewBatch, string, error) {
	info, err := s.Latest(RawPrefix, RawExt)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(info.Path)
	if err != nil {
		return nil, info.Path, fmt.Errorf("read checkpoint: %w", err)
	}
	var batches []review.RawReviewBatch
	if err := json.Unmarshal(data, &batches); err != nil {
		return nil, info.Path, fmt.Errorf("decode checkpoint %s: %w", info.Path, err)
	}
	return batches, info.Path, nil
}

// LoadLatestDocuments loads the newest normalized documents checkpoint.
func (s *Store) LoadLatestDocuments() ([]review.Document, string, error) {
	info, err := s.Latest(DocumentsPrefix, DocumentsExt)
	if err != nil {
		return nil, "", err
	}
	docs, err := LoadDocuments(info.Path)
	return docs, info.Path, err
}

// LoadDocuments reads a JSON lines checkpoint. Blank lines are skipped.
func LoadDocuments(file string) ([]review.Document, error) {
	f, err := os.Open(file) // #nosec G304 -- checkpoint paths come from the store or the run ledger.
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	docs := []review.Document{}
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var doc review.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", file, line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return docs, nil
}
