package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "drawbot/pkg/logx"
)

// backend persists encoded collections. Calls for one collection are
// always serialized by the store's lock set.
type backend interface {
	driver() string
	read(ctx context.Context, name string) ([]byte, bool, error)
	write(ctx context.Context, name string, shape Shape, body []byte) error
	close() error
}

type store struct {
	schema Schema
	be     backend
	locks  *lockSet
	log    logx.Logger

	closeOnce sync.Once
	closed    atomic.Bool

	gets, puts, txs, aborted, failures atomic.Uint64
	lockWaitNanos                      atomic.Int64
}

func newStore(schema Schema, be backend, log logx.Logger) *store {
	cp := make(Schema, len(schema))
	for k, v := range schema {
		cp[k] = v
	}
	return &store{schema: cp, be: be, locks: newLockSet(), log: log}
}

func (s *store) Schema() Schema {
	out := make(Schema, len(s.schema))
	for k, v := range s.schema {
		out[k] = v
	}
	return out
}

func (s *store) shapeOf(name string) (Shape, error) {
	shape, ok := s.schema[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return shape, nil
}

func (s *store) lock(ctx context.Context, name string) (func(), error) {
	start := time.Now()
	release, err := s.locks.acquire(ctx, name)
	s.lockWaitNanos.Add(int64(time.Since(start)))
	return release, err
}

// load reads the last committed content. Writes replace content atomically,
// so readers need no lock.
func (s *store) load(ctx context.Context, name string, shape Shape) (Content, error) {
	b, ok, err := s.be.read(ctx, name)
	if err != nil {
		s.failures.Add(1)
		return Content{}, ioErr("read", name, err)
	}
	if !ok {
		return Empty(shape), nil
	}
	c, err := decodeContent(shape, b)
	if err != nil {
		s.failures.Add(1)
		return Content{}, ioErr("decode", name, err)
	}
	return c, nil
}

// save expects c normalized to shape.
func (s *store) save(ctx context.Context, name string, shape Shape, c Content) error {
	body, err := c.encode()
	if err != nil {
		return ioErr("encode", name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.be.write(ctx, name, shape, body); err != nil {
		s.failures.Add(1)
		return ioErr("write", name, err)
	}
	return nil
}

func (s *store) Get(ctx context.Context, name string) (Content, error) {
	if s.closed.Load() {
		return Content{}, ErrClosed
	}
	shape, err := s.shapeOf(name)
	if err != nil {
		return Content{}, err
	}
	s.gets.Add(1)
	return s.load(ctx, name, shape)
}

func (s *store) Put(ctx context.Context, name string, c Content) error {
	if s.closed.Load() {
		return ErrClosed
	}
	shape, err := s.shapeOf(name)
	if err != nil {
		return err
	}
	s.puts.Add(1)
	release, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer release()
	c, err = c.Clone().normalize(shape)
	if err != nil {
		return fmt.Errorf("storage put %q: %w", name, err)
	}
	return s.save(ctx, name, shape, c)
}

func (s *store) Transact(ctx context.Context, name string, fn TxFunc) (Content, error) {
	if s.closed.Load() {
		return Content{}, ErrClosed
	}
	shape, err := s.shapeOf(name)
	if err != nil {
		return Content{}, err
	}
	s.txs.Add(1)
	release, err := s.lock(ctx, name)
	if err != nil {
		return Content{}, err
	}
	defer release()

	cur, err := s.load(ctx, name, shape)
	if err != nil {
		return Content{}, err
	}
	next, err := fn(cur.Clone())
	if err != nil {
		s.aborted.Add(1)
		return Content{}, err
	}
	next, err = next.normalize(shape)
	if err != nil {
		s.aborted.Add(1)
		return Content{}, fmt.Errorf("storage transact %q: %w", name, err)
	}
	if err := s.save(ctx, name, shape, next); err != nil {
		return Content{}, err
	}
	return next.Clone(), nil
}

func (s *store) Stats() Stats {
	return Stats{
		Driver:       s.be.driver(),
		Gets:         s.gets.Load(),
		Puts:         s.puts.Load(),
		Transactions: s.txs.Load(),
		Aborted:      s.aborted.Load(),
		Failures:     s.failures.Load(),
		LockWait:     time.Duration(s.lockWaitNanos.Load()),
	}
}

func (s *store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.be.close()
	})
	return err
}
