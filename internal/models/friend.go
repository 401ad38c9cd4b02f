package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FriendRequest is a pending proposal from one user to another. The same
// value is stored twice: in the sender's SentRequests and in the
// recipient's ReceivedRequests, sharing one ID.
type FriendRequest struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	From      primitive.ObjectID `bson:"from" json:"from"`
	To        primitive.ObjectID `bson:"to" json:"to"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}

// ReceivedRequestView is a received request with the sender resolved for display.
type ReceivedRequestView struct {
	ID        primitive.ObjectID `json:"id"`
	From      PublicUser         `json:"from"`
	CreatedAt time.Time          `json:"createdAt"`
}

// SentRequestView is a sent request with the recipient resolved for display.
type SentRequestView struct {
	ID        primitive.ObjectID `json:"id"`
	To        PublicUser         `json:"to"`
	CreatedAt time.Time          `json:"createdAt"`
}
