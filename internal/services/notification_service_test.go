package services

import (
	"context"
	"sync"
	"testing"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/Dias221467/when2meet/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[primitive.ObjectID][]interface{}
}

func (p *recordingPublisher) Publish(userID primitive.ObjectID, event interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[primitive.ObjectID][]interface{}{}
	}
	p.events[userID] = append(p.events[userID], event)
}

func TestNotificationServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewNotificationService(repository.NewMemoryNotificationRepository(), pub)
	owner, stranger := primitive.NewObjectID(), primitive.NewObjectID()

	n := &models.Notification{UserID: owner, Type: models.NotificationFriendRequest, Title: "New friend request", Read: true}
	require.NoError(t, svc.Notify(ctx, n))
	assert.False(t, n.ID.IsZero())
	assert.False(t, n.Read)

	require.Len(t, pub.events[owner], 1)
	event, ok := pub.events[owner][0].(NotificationEvent)
	require.True(t, ok)
	assert.Equal(t, "notification", event.Type)
	assert.Equal(t, n.ID, event.Notification.ID)

	list, err := svc.GetUserNotifications(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, svc.MarkNotificationAsRead(ctx, stranger, n.ID), ErrNotificationNotFound)
	require.NoError(t, svc.MarkNotificationAsRead(ctx, owner, n.ID))
	list, err = svc.GetUserNotifications(ctx, owner)
	require.NoError(t, err)
	assert.True(t, list[0].Read)

	assert.ErrorIs(t, svc.DeleteNotification(ctx, stranger, n.ID), ErrNotificationNotFound)
	require.NoError(t, svc.DeleteNotification(ctx, owner, n.ID))
	assert.ErrorIs(t, svc.DeleteNotification(ctx, owner, n.ID), ErrNotificationNotFound)

	deleted, err := svc.DeleteExpiredNotifications(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestFriendEventsReachNotificationService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	notifications := NewNotificationService(repository.NewMemoryNotificationRepository(), pub)
	f.service.SetNotifier(notifications)

	id := f.send(t, f.alice, f.bob)
	_, err := f.service.AcceptRequest(ctx, f.bob, id)
	require.NoError(t, err)

	bobs, err := notifications.GetUserNotifications(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, models.NotificationFriendRequest, bobs[0].Type)
	assert.Equal(t, "alice sent you a friend request", bobs[0].Message)

	alices, err := notifications.GetUserNotifications(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, alices, 1)
	assert.Equal(t, models.NotificationFriendRequestAccepted, alices[0].Type)
	assert.Len(t, pub.events[f.alice.ID], 1)
}
