package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents a user account together with its embedded friend state.
// Friends and both request collections are saved as part of the user
// document, so a relationship change always touches two documents.
type User struct {
	ID               primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Username         string               `bson:"username" json:"username"`
	Email            string               `bson:"email" json:"email"`
	HashedPassword   string               `bson:"hashed_password" json:"-"`
	Role             string               `bson:"role" json:"role"`
	Friends          []primitive.ObjectID `bson:"friends" json:"friends"`
	ReceivedRequests []FriendRequest      `bson:"received_requests" json:"receivedRequests"`
	SentRequests     []FriendRequest      `bson:"sent_requests" json:"sentRequests"`
	ResetToken       string               `bson:"reset_token,omitempty" json:"-"`
	ResetTokenExp    time.Time            `bson:"reset_token_exp,omitempty" json:"-"`
	LastActiveAt     time.Time            `bson:"last_active_at" json:"lastActiveAt"`
	Version          int64                `bson:"version" json:"-"`
	CreatedAt        time.Time            `bson:"created_at" json:"createdAt"`
	UpdatedAt        time.Time            `bson:"updated_at" json:"updatedAt"`
}

// PublicUser is the identity shown to other users.
type PublicUser struct {
	ID       primitive.ObjectID `json:"id"`
	Username string             `json:"username"`
	Email    string             `json:"email"`
}

// Public returns the display identity of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	}
}

// Clone returns a deep copy of u. Repositories and the friend service use it
// to keep pre-images that later mutations cannot reach.
func (u *User) Clone() *User {
	c := *u
	if u.Friends != nil {
		c.Friends = append([]primitive.ObjectID(nil), u.Friends...)
	}
	if u.ReceivedRequests != nil {
		c.ReceivedRequests = append([]FriendRequest(nil), u.ReceivedRequests...)
	}
	if u.SentRequests != nil {
		c.SentRequests = append([]FriendRequest(nil), u.SentRequests...)
	}
	return &c
}

func (u *User) HasFriend(id primitive.ObjectID) bool {
	for _, f := range u.Friends {
		if f == id {
			return true
		}
	}
	return false
}

// AddFriend adds id to the friend set and reports whether it was absent.
func (u *User) AddFriend(id primitive.ObjectID) bool {
	if u.HasFriend(id) {
		return false
	}
	u.Friends = append(u.Friends, id)
	return true
}

// RemoveFriend removes every occurrence of id and reports whether any was found.
func (u *User) RemoveFriend(id primitive.ObjectID) bool {
	kept := u.Friends[:0]
	removed := false
	for _, f := range u.Friends {
		if f == id {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	u.Friends = kept
	return removed
}

// SentRequest returns the index of the sent request with the given id, or -1.
func (u *User) SentRequest(id primitive.ObjectID) int {
	for i, r := range u.SentRequests {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// ReceivedRequest returns the index of the received request with the given id, or -1.
func (u *User) ReceivedRequest(id primitive.ObjectID) int {
	for i, r := range u.ReceivedRequests {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// HasSentTo reports whether u has an outstanding request addressed to id.
func (u *User) HasSentTo(id primitive.ObjectID) bool {
	for _, r := range u.SentRequests {
		if r.To == id {
			return true
		}
	}
	return false
}

// HasReceivedFrom reports whether u holds an outstanding request sent by id.
func (u *User) HasReceivedFrom(id primitive.ObjectID) bool {
	for _, r := range u.ReceivedRequests {
		if r.From == id {
			return true
		}
	}
	return false
}

// RemoveSentTo drops every sent request addressed to id and returns how many were dropped.
func (u *User) RemoveSentTo(id primitive.ObjectID) int {
	kept := u.SentRequests[:0]
	n := 0
	for _, r := range u.SentRequests {
		if r.To == id {
			n++
			continue
		}
		kept = append(kept, r)
	}
	u.SentRequests = kept
	return n
}

// RemoveReceivedFrom drops every received request sent by id and returns how many were dropped.
func (u *User) RemoveReceivedFrom(id primitive.ObjectID) int {
	kept := u.ReceivedRequests[:0]
	n := 0
	for _, r := range u.ReceivedRequests {
		if r.From == id {
			n++
			continue
		}
		kept = append(kept, r)
	}
	u.ReceivedRequests = kept
	return n
}
