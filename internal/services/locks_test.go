package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestUserLockerSerializesSameUser(t *testing.T) {
	l := NewUserLocker()
	a := primitive.NewObjectID()

	unlock, err := l.Lock(context.Background(), a)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, a)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := l.Lock(context.Background(), a)
	require.NoError(t, err)
	unlock2()
	assert.Zero(t, l.size())
}

func TestUserLockerDeduplicatesIDs(t *testing.T) {
	l := NewUserLocker()
	a := primitive.NewObjectID()

	unlock, err := l.Lock(context.Background(), a, a)
	require.NoError(t, err)
	unlock()
	assert.Zero(t, l.size())
}

func TestUserLockerNoDeadlockOnOpposingOrder(t *testing.T) {
	l := NewUserLocker()
	a, b := primitive.NewObjectID(), primitive.NewObjectID()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), a, b)
			if assert.NoError(t, err) {
				unlock()
			}
		}()
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), b, a)
			if assert.NoError(t, err) {
				unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lockers deadlocked")
	}
	assert.Zero(t, l.size())
}

func TestUserLockerReleasesPartialAcquisitionOnTimeout(t *testing.T) {
	l := NewUserLocker()
	ids := sortedUnique([]primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()})

	// Hold the second lock so that a pair acquisition stalls after the first.
	unlockSecond, err := l.Lock(context.Background(), ids[1])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, ids[0], ids[1])
	require.Error(t, err)

	// The first lock must be free again.
	unlockFirst, err := l.Lock(context.Background(), ids[0])
	require.NoError(t, err)
	unlockFirst()
	unlockSecond()
	assert.Zero(t, l.size())
}
