package backup

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// globalWeight bounds how many scoped operations may run at once; a global
// operation acquires all of it.
const globalWeight = 1 << 16

// ScopeLock serializes builds and restores per scope. The empty scope means
// the whole data set and excludes every scoped operation.
type ScopeLock struct {
	global *semaphore.Weighted

	mu     sync.Mutex
	scopes map[string]*scopeSlot
}

type scopeSlot struct {
	sem  *semaphore.Weighted
	refs int
}

// NewScopeLock creates an unlocked ScopeLock.
func NewScopeLock() *ScopeLock {
	return &ScopeLock{
		global: semaphore.NewWeighted(globalWeight),
		scopes: make(map[string]*scopeSlot),
	}
}

// Acquire blocks until scope is free or ctx is done. The returned release
// function must be called exactly once.
func (l *ScopeLock) Acquire(ctx context.Context, scope string) (func(), error) {
	if scope == "" {
		if err := l.global.Acquire(ctx, globalWeight); err != nil {
			return nil, err
		}
		var once sync.Once
		return func() { once.Do(func() { l.global.Release(globalWeight) }) }, nil
	}

	if err := l.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	slot := l.slot(scope)
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		l.unref(scope)
		l.global.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			l.unref(scope)
			l.global.Release(1)
		})
	}, nil
}

func (l *ScopeLock) slot(scope string) *scopeSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.scopes[scope]
	if !ok {
		s = &scopeSlot{sem: semaphore.NewWeighted(1)}
		l.scopes[scope] = s
	}
	s.refs++
	return s
}

func (l *ScopeLock) unref(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.scopes[scope]; ok {
		s.refs--
		if s.refs == 0 {
			delete(l.scopes, scope)
		}
	}
}
