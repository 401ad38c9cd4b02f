package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryUserRepositoryCreateAndLookup(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, &models.User{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.False(t, u.ID.IsZero())
	assert.EqualValues(t, 1, u.Version)
	assert.NotNil(t, u.Friends)

	_, err = repo.CreateUser(ctx, &models.User{Username: "other", Email: "ALICE@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	byEmail, err := repo.GetUserByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = repo.GetUserByID(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Returned documents are copies.
	byEmail.Friends = append(byEmail.Friends, primitive.NewObjectID())
	fresh, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.Friends)
}

func TestMemoryUserRepositorySaveChecksVersion(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	u, err := repo.CreateUser(ctx, &models.User{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	first, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	second, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)

	first.Friends = append(first.Friends, primitive.NewObjectID())
	require.NoError(t, repo.SaveUser(ctx, first))
	assert.EqualValues(t, 2, first.Version)

	second.Friends = append(second.Friends, primitive.NewObjectID())
	assert.ErrorIs(t, repo.SaveUser(ctx, second), ErrVersionConflict)

	// Profile fields are not written by SaveUser.
	first.Username = "mallory"
	require.NoError(t, repo.SaveUser(ctx, first))
	stored, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
	assert.Len(t, stored.Friends, 1)

	require.NoError(t, repo.DeleteUser(ctx, u.ID))
	assert.ErrorIs(t, repo.SaveUser(ctx, first), ErrUserNotFound)
}

func TestMemoryUserRepositoryResetToken(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	u, err := repo.CreateUser(ctx, &models.User{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUserFields(ctx, u.ID, map[string]interface{}{
		"reset_token":     "hash",
		"reset_token_exp": time.Now().Add(time.Minute),
	}))
	found, err := repo.GetUserByResetToken(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	require.NoError(t, repo.UpdateUserFields(ctx, u.ID, map[string]interface{}{
		"reset_token_exp": time.Now().Add(-time.Minute),
	}))
	_, err = repo.GetUserByResetToken(ctx, "hash")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryUserRepositoryListing(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	a, err := repo.CreateUser(ctx, &models.User{Username: "a", Email: "a@example.com"})
	require.NoError(t, err)
	b, err := repo.CreateUser(ctx, &models.User{Username: "b", Email: "b@example.com"})
	require.NoError(t, err)

	users, err := repo.GetUsersByIDs(ctx, []primitive.ObjectID{a.ID, b.ID, a.ID, primitive.NewObjectID()})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	all, err := repo.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryNotificationRepository(t *testing.T) {
	repo := NewMemoryNotificationRepository()
	ctx := context.Background()
	owner := primitive.NewObjectID()

	older := &models.Notification{UserID: owner, Title: "first"}
	require.NoError(t, repo.CreateNotification(ctx, older))
	newer := &models.Notification{UserID: owner, Title: "second"}
	require.NoError(t, repo.CreateNotification(ctx, newer))
	newer.CreatedAt = older.CreatedAt.Add(time.Second)
	repo.items[newer.ID] = *newer

	list, err := repo.GetUserNotifications(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Title)

	expired := repo.items[older.ID]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	repo.items[older.ID] = expired

	n, err := repo.DeleteExpiredNotifications(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.ErrorIs(t, repo.MarkAsRead(ctx, primitive.NewObjectID(), newer.ID), ErrNotificationNotFound)
	assert.NoError(t, repo.MarkAsRead(ctx, owner, newer.ID))
}
