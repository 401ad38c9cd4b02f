package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dias221467/when2meet/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MemoryNotificationRepository struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]models.Notification
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{items: make(map[primitive.ObjectID]models.Notification)}
}

func (r *MemoryNotificationRepository) CreateNotification(ctx context.Context, notif *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	notif.ID = primitive.NewObjectID()
	notif.CreatedAt = time.Now()
	notif.ExpiresAt = notif.CreatedAt.Add(notificationTTL)
	r.items[notif.ID] = *notif
	return nil
}

func (r *MemoryNotificationRepository) GetUserNotifications(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := []models.Notification{}
	for _, n := range r.items {
		if n.UserID == userID && n.ExpiresAt.After(now) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryNotificationRepository) MarkAsRead(ctx context.Context, userID, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok || n.UserID != userID {
		return ErrNotificationNotFound
	}
	n.Read = true
	r.items[id] = n
	return nil
}

func (r *MemoryNotificationRepository) DeleteNotification(ctx context.Context, userID, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok || n.UserID != userID {
		return ErrNotificationNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *MemoryNotificationRepository) DeleteExpiredNotifications(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var n int64
	for id, item := range r.items {
		if !item.ExpiresAt.After(now) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}
