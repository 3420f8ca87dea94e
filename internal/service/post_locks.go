package service

import (
	"context"
	"sync"
)

// postLocks serializes mutations of a single post. Entries are reference
// counted and dropped once nobody holds or waits on them.
type postLocks struct {
	mu    sync.Mutex
	locks map[int64]*postLock
}

type postLock struct {
	sem  chan struct{}
	refs int
}

func newPostLocks() *postLocks {
	return &postLocks{locks: make(map[int64]*postLock)}
}

// Lock blocks until the post is free or ctx is done. The returned func
// releases the lock and must be called exactly once.
func (l *postLocks) Lock(ctx context.Context, postID int64) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[postID]
	if !ok {
		pl = &postLock{sem: make(chan struct{}, 1)}
		l.locks[postID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(postID, pl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.sem
			l.release(postID, pl)
		})
	}, nil
}

func (l *postLocks) release(postID int64, pl *postLock) {
	l.mu.Lock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, postID)
	}
	l.mu.Unlock()
}

func (l *postLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
