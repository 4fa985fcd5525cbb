package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "drawbot/pkg/logx"
)

const (
	fileExt = ".json"
	tmpExt  = ".tmp"
)

// fileBackend keeps each collection in <dir>/<name>.json.
type fileBackend struct {
	dir string
	log logx.Logger

	// beforeRename runs after the temp file is synced and before it replaces
	// the live file. Tests use it to simulate a crash mid-write.
	beforeRename func(name string) error
}

func openFileBackend(dir string, log logx.Logger) (*fileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage.dir is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileBackend{dir: dir, log: log}, nil
}

func (b *fileBackend) driver() string { return "file" }

func (b *fileBackend) path(name string) string { return filepath.Join(b.dir, name+fileExt) }

func (b *fileBackend) read(_ context.Context, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// write replaces the collection file atomically: temp sibling, fsync,
// close, rename, then a best-effort directory fsync. The temp file is
// removed on every failure path so the live file is never left half-written.
func (b *fileBackend) write(_ context.Context, name string, _ Shape, body []byte) (err error) {
	dst := b.path(name)
	tmp := dst + tmpExt

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if b.beforeRename != nil {
		if err = b.beforeRename(name); err != nil {
			return err
		}
	}
	if err = os.Rename(tmp, dst); err != nil {
		return err
	}
	if derr := syncDir(b.dir); derr != nil {
		b.log.Debug("directory fsync failed", logx.String("dir", b.dir), logx.Err(derr))
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (b *fileBackend) close() error { return nil }

// staleTemps lists leftover temp files, keyed by collection name.
func (b *fileBackend) staleTemps() (map[string]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.dir, "*"+fileExt+tmpExt))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), fileExt+tmpExt)
		out[name] = m
	}
	return out, nil
}

// SweepTemp removes temp files left behind by an interrupted write. Each
// removal holds the collection lock so an in-flight write is never disturbed.
// Backends without temp files report zero.
func SweepTemp(ctx context.Context, st Store) (int, error) {
	s, ok := st.(*store)
	if !ok {
		return 0, nil
	}
	fb, ok := s.be.(*fileBackend)
	if !ok {
		return 0, nil
	}
	stale, err := fb.staleTemps()
	if err != nil {
		return 0, err
	}
	removed := 0
	for name, path := range stale {
		release, err := s.lock(ctx, name)
		if err != nil {
			return removed, err
		}
		err = os.Remove(path)
		release()
		switch {
		case err == nil:
			removed++
			s.log.Warn("removed stale temp file", logx.String("path", path))
		case errors.Is(err, os.ErrNotExist):
		default:
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return removed, nil
}
