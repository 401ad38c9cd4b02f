package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/Dias221467/when2meet/internal/repository"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationStore interface {
	CreateNotification(ctx context.Context, notif *models.Notification) error
	GetUserNotifications(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, userID, id primitive.ObjectID) error
	DeleteNotification(ctx context.Context, userID, id primitive.ObjectID) error
	DeleteExpiredNotifications(ctx context.Context) (int64, error)
}

// Publisher pushes events to connected clients of a user.
type Publisher interface {
	Publish(userID primitive.ObjectID, event interface{})
}

// NotificationEvent is the frame pushed to clients when a notification is created.
type NotificationEvent struct {
	Type         string              `json:"type"`
	Notification models.Notification `json:"notification"`
}

type NotificationService struct {
	repo      NotificationStore
	publisher Publisher
}

func NewNotificationService(repo NotificationStore, publisher Publisher) *NotificationService {
	return &NotificationService{
		repo:      repo,
		publisher: publisher,
	}
}

// Notify stores a notification and pushes it to the recipient if connected.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) error {
	n.Read = false
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"userID": n.UserID.Hex(),
		"type":   n.Type,
	}).Debug("Notification created")
	if s.publisher != nil {
		s.publisher.Publish(n.UserID, NotificationEvent{Type: "notification", Notification: *n})
	}
	return nil
}

// GetUserNotifications returns all notifications for a user
func (s *NotificationService) GetUserNotifications(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error) {
	return s.repo.GetUserNotifications(ctx, userID)
}

func (s *NotificationService) MarkNotificationAsRead(ctx context.Context, userID, notifID primitive.ObjectID) error {
	return notificationErr(s.repo.MarkAsRead(ctx, userID, notifID))
}

func (s *NotificationService) DeleteNotification(ctx context.Context, userID, notifID primitive.ObjectID) error {
	return notificationErr(s.repo.DeleteNotification(ctx, userID, notifID))
}

// DeleteExpiredNotifications is run periodically by the scheduler.
func (s *NotificationService) DeleteExpiredNotifications(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpiredNotifications(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	return n, nil
}

func notificationErr(err error) error {
	if errors.Is(err, repository.ErrNotificationNotFound) {
		return ErrNotificationNotFound
	}
	if err != nil {
		return fmt.Errorf("notification update failed: %w", err)
	}
	return nil
}
