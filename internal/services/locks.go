package services

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserLocker serializes read-modify-write sequences on user documents
// within this process. Locks are always taken in ascending id order, so
// two operations over the same pair of users cannot deadlock.
type UserLocker struct {
	mu    sync.Mutex
	locks map[primitive.ObjectID]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func NewUserLocker() *UserLocker {
	return &UserLocker{locks: make(map[primitive.ObjectID]*userLock)}
}

// Lock acquires the locks of all given users, waiting at most until ctx is
// done. The returned func releases them and must be called exactly once.
func (l *UserLocker) Lock(ctx context.Context, ids ...primitive.ObjectID) (func(), error) {
	ids = sortedUnique(ids)

	held := make([]*userLock, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].sem
		}
		l.mu.Lock()
		for i, id := range ids {
			if i >= len(held) {
				break
			}
			lk := l.locks[id]
			lk.refs--
			if lk.refs == 0 {
				delete(l.locks, id)
			}
		}
		l.mu.Unlock()
	}

	for _, id := range ids {
		lk := l.ref(id)
		select {
		case lk.sem <- struct{}{}:
			held = append(held, lk)
		case <-ctx.Done():
			l.unref(id)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (l *UserLocker) ref(id primitive.ObjectID) *userLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &userLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	return lk
}

func (l *UserLocker) unref(id primitive.ObjectID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk := l.locks[id]
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

// size reports how many users currently have a lock entry.
func (l *UserLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func sortedUnique(ids []primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	seen := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}
