package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dias221467/when2meet/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryUserRepository keeps users in process memory. It mirrors the
// semantics of UserRepository, including version checks on SaveUser, and
// backs STORE_BACKEND=memory as well as the service tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	users   map[primitive.ObjectID]*models.User
	byEmail map[string]primitive.ObjectID
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:   make(map[primitive.ObjectID]*models.User),
		byEmail: make(map[string]primitive.ObjectID),
	}
}

func (r *MemoryUserRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, ok := r.byEmail[key]; ok {
		return nil, ErrEmailTaken
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastActiveAt = now
	user.Version = 1
	normalizeCollections(user)

	r.users[user.ID] = user.Clone()
	r.byEmail[key] = user.ID
	return user, nil
}

func (r *MemoryUserRepository) GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryUserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return r.users[id].Clone(), nil
}

func (r *MemoryUserRepository) GetUserByResetToken(ctx context.Context, tokenHash string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	for _, u := range r.users {
		if u.ResetToken != "" && u.ResetToken == tokenHash && u.ResetTokenExp.After(now) {
			return u.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryUserRepository) GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := []models.User{}
	seen := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := r.users[id]; ok {
			users = append(users, *u.Clone())
		}
	}
	return users, nil
}

func (r *MemoryUserRepository) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u.Clone())
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID.Hex() < users[j].ID.Hex()
	})
	return users, nil
}

func (r *MemoryUserRepository) SaveUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	if stored.Version != user.Version {
		return ErrVersionConflict
	}

	normalizeCollections(user)
	next := user.Clone()
	// Profile fields are owned by UpdateUserFields.
	next.Username = stored.Username
	next.Email = stored.Email
	next.HashedPassword = stored.HashedPassword
	next.Role = stored.Role
	next.ResetToken = stored.ResetToken
	next.ResetTokenExp = stored.ResetTokenExp
	next.LastActiveAt = stored.LastActiveAt
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = time.Now()
	next.Version = stored.Version + 1
	r.users[user.ID] = next

	user.Version = next.Version
	user.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *MemoryUserRepository) UpdateUserFields(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	for k, v := range fields {
		switch k {
		case "username":
			u.Username, _ = v.(string)
		case "hashed_password":
			u.HashedPassword, _ = v.(string)
		case "role":
			u.Role, _ = v.(string)
		case "reset_token":
			u.ResetToken, _ = v.(string)
		case "reset_token_exp":
			u.ResetTokenExp, _ = v.(time.Time)
		case "last_active_at":
			u.LastActiveAt, _ = v.(time.Time)
		}
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryUserRepository) UpdateLastActive(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[id]; ok {
		u.LastActiveAt = time.Now()
	}
	return nil
}

// DeleteUser removes a user. Relationship entries pointing at it in other
// documents are left in place, the same as a raw delete in MongoDB.
func (r *MemoryUserRepository) DeleteUser(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(r.byEmail, strings.ToLower(u.Email))
	delete(r.users, id)
	return nil
}
