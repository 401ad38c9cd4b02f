package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	NotificationFriendRequest         = "friend_request"
	NotificationFriendRequestAccepted = "friend_request_accepted"
)

type Notification struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID  `bson:"user_id" json:"userId"`
	Type      string              `bson:"type" json:"type"` // e.g. "friend_request"
	Title     string              `bson:"title" json:"title"`
	Message   string              `bson:"message" json:"message"`
	Read      bool                `bson:"read" json:"read"`
	ActorID   *primitive.ObjectID `bson:"actor_id,omitempty" json:"actorId,omitempty"` // user who triggered it
	TargetID  *primitive.ObjectID `bson:"target_id,omitempty" json:"targetId,omitempty"`
	CreatedAt time.Time           `bson:"created_at" json:"createdAt"`
	ExpiresAt time.Time           `bson:"expires_at" json:"expiresAt"` // removed after 7 days
}
