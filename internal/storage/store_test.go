package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	"drawings": ShapeMap,
	"logs":     ShapeSequence,
	"audit":    ShapeSequence,
}

func openFileStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Dir: dir}, testSchema, nopLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "db", "store.db"), BusyTimeout: time.Second}, testSchema, nopLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"file":   openFileStore(t, filepath.Join(dir, "files")),
		"sqlite": sq,
	}
}

type counter struct {
	N int `json:"n"`
}

func TestGetReturnsDeclaredDefault(t *testing.T) {
	t.Parallel()

	for name, st := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m, err := st.Get(ctx, "drawings")
			require.NoError(t, err)
			require.Equal(t, ShapeMap, m.Shape)
			require.NotNil(t, m.Records)
			require.Zero(t, m.Len())

			s, err := st.Get(ctx, "logs")
			require.NoError(t, err)
			require.Equal(t, ShapeSequence, s.Shape)
			require.NotNil(t, s.Entries)

			_, err = st.Get(ctx, "nope")
			require.ErrorIs(t, err, ErrUnknownCollection)
		})
	}
}

func TestTransactSerializesSameCollection(t *testing.T) {
	t.Parallel()

	for name, st := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 40
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					_, err := st.Transact(ctx, "logs", func(c Content) (Content, error) {
						return c, AppendEntry(&c, counter{N: i})
					})
					assert.NoError(t, err)
				}(i)
				go func() {
					defer wg.Done()
					_, err := st.Transact(ctx, "drawings", func(c Content) (Content, error) {
						cur, _, err := GetRecord[counter](c, "total")
						if err != nil {
							return c, err
						}
						cur.N++
						return c, SetRecord(&c, "total", cur)
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			logs, err := st.Get(ctx, "logs")
			require.NoError(t, err)
			entries, err := DecodeEntries[counter](logs)
			require.NoError(t, err)
			require.Len(t, entries, n)
			seen := map[int]bool{}
			for _, e := range entries {
				seen[e.N] = true
			}
			require.Len(t, seen, n)

			m, err := st.Get(ctx, "drawings")
			require.NoError(t, err)
			total, ok, err := GetRecord[counter](m, "total")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, n, total.N)
		})
	}
}

func TestTransactDifferentCollectionsDoNotBlock(t *testing.T) {
	t.Parallel()

	st := openFileStore(t, t.TempDir())
	ctx := context.Background()

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := st.Transact(ctx, "drawings", func(c Content) (Content, error) {
			close(inside)
			<-release
			return c, nil
		})
		done <- err
	}()
	<-inside

	tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := st.Transact(tctx, "logs", func(c Content) (Content, error) {
		return c, AppendEntry(&c, "independent")
	})
	require.NoError(t, err)

	// Same collection must wait, and honors its context while waiting.
	wctx, wcancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer wcancel()
	_, err = st.Transact(wctx, "drawings", func(c Content) (Content, error) { return c, nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}

func TestTransactErrorLeavesContentUnchanged(t *testing.T) {
	t.Parallel()

	for name, st := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := st.Transact(ctx, "drawings", func(c Content) (Content, error) {
				return c, SetRecord(&c, "a", counter{N: 1})
			})
			require.NoError(t, err)

			boom := errors.New("boom")
			_, err = st.Transact(ctx, "drawings", func(c Content) (Content, error) {
				require.NoError(t, SetRecord(&c, "a", counter{N: 99}))
				require.NoError(t, SetRecord(&c, "b", counter{N: 2}))
				return c, boom
			})
			require.ErrorIs(t, err, boom)

			m, err := st.Get(ctx, "drawings")
			require.NoError(t, err)
			require.Equal(t, []string{"a"}, m.Keys())
			a, _, err := GetRecord[counter](m, "a")
			require.NoError(t, err)
			require.Equal(t, 1, a.N)
			require.Equal(t, uint64(1), st.Stats().Aborted)
		})
	}
}

func TestCrashBeforeRenameKeepsPreviousContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openFileStore(t, dir)
	ctx := context.Background()

	_, err := st.Transact(ctx, "drawings", func(c Content) (Content, error) {
		return c, SetRecord(&c, "x", counter{N: 1})
	})
	require.NoError(t, err)

	crash := errors.New("power lost")
	st.(*store).be.(*fileBackend).beforeRename = func(string) error { return crash }

	_, err = st.Transact(ctx, "drawings", func(c Content) (Content, error) {
		return c, SetRecord(&c, "x", counter{N: 2})
	})
	require.ErrorIs(t, err, crash)
	require.ErrorIs(t, err, ErrIO)

	_, statErr := os.Stat(filepath.Join(dir, "drawings.json.tmp"))
	require.True(t, os.IsNotExist(statErr), "temp file must be removed")

	m, err := st.Get(ctx, "drawings")
	require.NoError(t, err)
	x, _, err := GetRecord[counter](m, "x")
	require.NoError(t, err)
	require.Equal(t, 1, x.N)
}

func TestStaleTempIgnoredAndSweptOnOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawings.json"), []byte(`{"x":{"n":7}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawings.json.tmp"), []byte(`{"x":{"n`), 0o600))

	st := openFileStore(t, dir)
	_, err := os.Stat(filepath.Join(dir, "drawings.json.tmp"))
	require.True(t, os.IsNotExist(err))

	m, err := st.Get(context.Background(), "drawings")
	require.NoError(t, err)
	x, ok, err := GetRecord[counter](m, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, x.N)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs.json.tmp"), []byte("junk"), 0o600))
	n, err := SweepTemp(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCorruptFileSurfacesAsIOError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs.json"), []byte(`{"not":"a list"`), 0o600))
	st := openFileStore(t, dir)

	_, err := st.Get(context.Background(), "logs")
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, ErrCorrupt)

	var se *Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, "logs", se.Collection)
}

func TestPutRejectsShapeMismatch(t *testing.T) {
	t.Parallel()

	st := openFileStore(t, t.TempDir())
	ctx := context.Background()

	err := st.Put(ctx, "logs", Empty(ShapeMap))
	require.Error(t, err)

	seq := Empty(ShapeSequence)
	for i := 0; i < 3; i++ {
		require.NoError(t, AppendEntry(&seq, fmt.Sprintf("e%d", i)))
	}
	require.NoError(t, st.Put(ctx, "logs", seq))
	got, err := st.Get(ctx, "logs")
	require.NoError(t, err)
	vals, err := DecodeEntries[string](got)
	require.NoError(t, err)
	require.Equal(t, []string{"e0", "e1", "e2"}, vals)
}

func TestAppendAuditTrims(t *testing.T) {
	t.Parallel()

	st := openFileStore(t, t.TempDir())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, AppendAudit(ctx, st, AuditEntry{Action: "drawing.start", Target: fmt.Sprint(i), OK: true}, 3))
	}
	c, err := st.Get(ctx, AuditCollection)
	require.NoError(t, err)
	entries, err := DecodeEntries[AuditEntry](c)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "2", entries[0].Target)
	require.False(t, entries[0].At.IsZero())
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Dir: t.TempDir()}, testSchema, nopLog())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, err = st.Get(context.Background(), "logs")
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpenValidatesSchema(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Dir: t.TempDir()}, Schema{"Bad Name": ShapeMap}, nopLog())
	require.Error(t, err)
	_, err = Open(Config{Dir: t.TempDir()}, Schema{"ok": "tree"}, nopLog())
	require.Error(t, err)
	_, err = Open(Config{Driver: "redis"}, testSchema, nopLog())
	require.Error(t, err)
}
