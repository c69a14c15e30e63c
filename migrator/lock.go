package migrator

import (
	"context"
	"path/filepath"
	"sync"
)

// storeLocks serializes migrations per store location. Different locations
// never contend.
type storeLocks struct {
	mu   sync.Mutex
	held map[string]*storeLock
}

type storeLock struct {
	sem  chan struct{}
	refs int
}

func newStoreLocks() *storeLocks {
	return &storeLocks{held: make(map[string]*storeLock)}
}

// lockKey normalizes a store path so aliases of one file share a lock.
func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	// Resolve the directory only: the store itself may not exist yet.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		path = filepath.Join(dir, filepath.Base(path))
	}
	return filepath.Clean(path)
}

func (l *storeLocks) ref(key string) *storeLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	if !ok {
		e = &storeLock{sem: make(chan struct{}, 1)}
		l.held[key] = e
	}
	e.refs++
	return e
}

func (l *storeLocks) unref(key string, e *storeLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.held, key)
	}
}

// acquire blocks until the store at path is free or ctx is done.
func (l *storeLocks) acquire(ctx context.Context, path string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := lockKey(path)
	e := l.ref(key)
	select {
	case e.sem <- struct{}{}:
		return l.releaser(key, e), nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

// tryAcquire takes the lock only if nobody holds it.
func (l *storeLocks) tryAcquire(path string) (func(), bool) {
	key := lockKey(path)
	e := l.ref(key)
	select {
	case e.sem <- struct{}{}:
		return l.releaser(key, e), true
	default:
		l.unref(key, e)
		return nil, false
	}
}

func (l *storeLocks) releaser(key string, e *storeLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}
}
