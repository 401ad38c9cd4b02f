package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserRepository handles database operations related to users.
type UserRepository struct {
	collection   *mongo.Collection
	transactions bool
}

// NewUserRepository creates a new instance of UserRepository. When
// transactions is true, WithinTransaction runs its callback inside a
// MongoDB multi-document transaction (replica set required).
func NewUserRepository(db *mongo.Database, transactions bool) *UserRepository {
	return &UserRepository{
		collection:   db.Collection("users"),
		transactions: transactions,
	}
}

// CreateUser inserts a new user into the database.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastActiveAt = now
	user.Version = 1
	normalizeCollections(user)

	result, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		logrus.WithError(err).Error("Failed to insert user into database")
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		logrus.Error("Failed to cast inserted ID to ObjectID")
		return nil, fmt.Errorf("failed to cast inserted ID")
	}
	user.ID = insertedID

	logrus.WithField("userID", user.ID.Hex()).Info("User inserted successfully")
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// GetUserByID retrieves a user by their ID.
func (r *UserRepository) GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetUserByResetToken finds the user holding an unexpired reset token hash.
func (r *UserRepository) GetUserByResetToken(ctx context.Context, tokenHash string) (*models.User, error) {
	return r.findOne(ctx, bson.M{
		"reset_token":     tokenHash,
		"reset_token_exp": bson.M{"$gt": time.Now()},
	})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"filter": filter,
			"error":  err,
		}).Warn("Failed to find user")
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// GetUsersByIDs fetches user details for a list of ObjectIDs.
func (r *UserRepository) GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users by IDs: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// GetAllUsers returns every user ordered by id.
func (r *UserRepository) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*models.User
	for cursor.Next(ctx) {
		var user models.User
		if err := cursor.Decode(&user); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		users = append(users, &user)
	}
	return users, cursor.Err()
}

// SaveUser writes the relationship state of user (friends and both request
// collections) if the stored version still equals user.Version, then bumps
// the version. A stale version yields ErrVersionConflict.
func (r *UserRepository) SaveUser(ctx context.Context, user *models.User) error {
	normalizeCollections(user)
	now := time.Now()

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": user.ID, "version": user.Version},
		bson.M{
			"$set": bson.M{
				"friends":           user.Friends,
				"received_requests": user.ReceivedRequests,
				"sent_requests":     user.SentRequests,
				"updated_at":        now,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": user.ID.Hex(),
			"error":  err,
		}).Error("Failed to save user")
		return fmt.Errorf("failed to save user: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": user.ID})
		if err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
		if n == 0 {
			return ErrUserNotFound
		}
		return ErrVersionConflict
	}

	user.Version++
	user.UpdatedAt = now
	return nil
}

// UpdateUserFields sets profile fields that are not part of the relationship
// state and therefore do not bump the document version.
func (r *UserRepository) UpdateUserFields(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[k] = v
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": id.Hex(),
			"error":  err,
		}).Error("Failed to update user")
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateLastActive records the time of the user's latest authenticated request.
func (r *UserRepository) UpdateLastActive(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_active_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update last active: %w", err)
	}
	return nil
}

// WithinTransaction runs fn inside a multi-document transaction when the
// repository was built with transactions enabled, and reports false without
// calling fn otherwise.
func (r *UserRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	if !r.transactions {
		return false, nil
	}
	session, err := r.collection.Database().Client().StartSession()
	if err != nil {
		return true, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return true, err
}

func normalizeCollections(user *models.User) {
	if user.Friends == nil {
		user.Friends = []primitive.ObjectID{}
	}
	if user.ReceivedRequests == nil {
		user.ReceivedRequests = []models.FriendRequest{}
	}
	if user.SentRequests == nil {
		user.SentRequests = []models.FriendRequest{}
	}
}
