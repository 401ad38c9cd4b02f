package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/Dias221467/when2meet/internal/repository"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errStoreDown = errors.New("store unavailable")

// faultyStore wraps the memory repository and lets tests fail or intercept
// individual saves.
type faultyStore struct {
	*repository.MemoryUserRepository

	mu sync.Mutex
	// failSaves holds, per user, how many upcoming saves fail.
	failSaves map[primitive.ObjectID]int
	// beforeSave runs before every save; used to simulate writers in other processes.
	beforeSave func(u *models.User)
	// afterList runs once GetAllUsers has taken its snapshot.
	afterList func()
	saves     int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryUserRepository: repository.NewMemoryUserRepository(),
		failSaves:            map[primitive.ObjectID]int{},
	}
}

func (s *faultyStore) failNextSaves(id primitive.ObjectID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves[id] = n
}

func (s *faultyStore) SaveUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	s.saves++
	hook := s.beforeSave
	s.mu.Unlock()

	if hook != nil {
		hook(u)
	}

	if s.takeFailure(u.ID) {
		return errStoreDown
	}
	return s.MemoryUserRepository.SaveUser(ctx, u)
}

func (s *faultyStore) takeFailure(id primitive.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves[id] > 0 {
		s.failSaves[id]--
		return true
	}
	return false
}

func (s *faultyStore) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	users, err := s.MemoryUserRepository.GetAllUsers(ctx)
	s.mu.Lock()
	hook := s.afterList
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return users, err
}

func (s *faultyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type txKey struct{}

// txStore adds transactions to a faultyStore. Saves made inside a
// transaction are version checked and buffered, then applied together when
// the callback returns nil. The first aborts attempts are discarded and the
// callback is run again, the way the driver retries transient errors.
type txStore struct {
	*faultyStore
	disabled bool
	aborts   int
	// beforeTx runs before every attempt.
	beforeTx func()

	attempts  int
	committed []primitive.ObjectID
}

func (s *txStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	if s.disabled {
		return false, nil
	}
	for {
		s.attempts++
		if s.beforeTx != nil {
			s.beforeTx()
		}
		var pending []*models.User
		if err := fn(context.WithValue(ctx, txKey{}, &pending)); err != nil {
			return true, err
		}
		if s.attempts <= s.aborts {
			continue
		}
		for _, u := range pending {
			if err := s.MemoryUserRepository.SaveUser(ctx, u); err != nil {
				return true, err
			}
			s.committed = append(s.committed, u.ID)
		}
		return true, nil
	}
}

func (s *txStore) SaveUser(ctx context.Context, u *models.User) error {
	pending, ok := ctx.Value(txKey{}).(*[]*models.User)
	if !ok {
		return s.faultyStore.SaveUser(ctx, u)
	}
	if s.takeFailure(u.ID) {
		return errStoreDown
	}
	stored, err := s.MemoryUserRepository.GetUserByID(ctx, u.ID)
	if err != nil {
		return err
	}
	if stored.Version != u.Version {
		return repository.ErrVersionConflict
	}
	*pending = append(*pending, u.Clone())
	u.Version++
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, notif *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, *notif)
	return n.err
}

func (n *recordingNotifier) all() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

type fixture struct {
	store    *faultyStore
	service  *FriendService
	notifier *recordingNotifier
	alice    Caller
	bob      Caller
	carol    Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newFaultyStore(), notifier: &recordingNotifier{}}
	f.service = NewFriendService(f.store, NewUserLocker(), 0)
	f.service.SetNotifier(f.notifier)
	f.alice = f.createUser(t, "alice", "alice@example.com")
	f.bob = f.createUser(t, "bob", "bob@example.com")
	f.carol = f.createUser(t, "carol", "carol@example.com")
	return f
}

func (f *fixture) createUser(t *testing.T, username, email string) Caller {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), &models.User{Username: username, Email: email, Role: "user"})
	require.NoError(t, err)
	return Caller{ID: u.ID, Email: u.Email}
}

func (f *fixture) user(t *testing.T, c Caller) *models.User {
	t.Helper()
	u, err := f.store.GetUserByID(context.Background(), c.ID)
	require.NoError(t, err)
	return u
}

// send has a send a request to b and returns its id.
func (f *fixture) send(t *testing.T, a, b Caller) primitive.ObjectID {
	t.Helper()
	view, err := f.service.SendRequest(context.Background(), a, b.Email)
	require.NoError(t, err)
	return view.ID
}

func (f *fixture) befriend(t *testing.T, a, b Caller) {
	t.Helper()
	id := f.send(t, a, b)
	_, err := f.service.AcceptRequest(context.Background(), b, id)
	require.NoError(t, err)
}

// requireConsistent checks the pairing, symmetry, uniqueness, self and
// exclusivity rules over every stored user.
func requireConsistent(t *testing.T, store *faultyStore) {
	t.Helper()
	all, err := store.GetAllUsers(context.Background())
	require.NoError(t, err)

	byID := map[primitive.ObjectID]*models.User{}
	for _, u := range all {
		byID[u.ID] = u
	}

	pairs := map[[2]primitive.ObjectID]int{}
	for _, u := range all {
		for _, f := range u.Friends {
			require.NotEqual(t, u.ID, f, "user %s is its own friend", u.Username)
			other, ok := byID[f]
			require.True(t, ok, "friend %s of %s does not exist", f.Hex(), u.Username)
			require.True(t, other.HasFriend(u.ID), "friendship %s -> %s is one-sided", u.Username, other.Username)
			require.False(t, u.HasSentTo(f) || u.HasReceivedFrom(f), "%s has a pending request with friend %s", u.Username, other.Username)
		}
		for _, r := range u.SentRequests {
			require.Equal(t, u.ID, r.From)
			require.NotEqual(t, r.From, r.To)
			other, ok := byID[r.To]
			require.True(t, ok)
			idx := other.ReceivedRequest(r.ID)
			require.GreaterOrEqual(t, idx, 0, "sent request %s has no received copy", r.ID.Hex())
			require.Equal(t, r.From, other.ReceivedRequests[idx].From)
			require.Equal(t, r.To, other.ReceivedRequests[idx].To)

			key := [2]primitive.ObjectID{r.From, r.To}
			if r.To.Hex() < r.From.Hex() {
				key = [2]primitive.ObjectID{r.To, r.From}
			}
			pairs[key]++
			require.Equal(t, 1, pairs[key], "more than one request between a pair")
		}
		for _, r := range u.ReceivedRequests {
			require.Equal(t, u.ID, r.To)
			other, ok := byID[r.From]
			require.True(t, ok)
			require.GreaterOrEqual(t, other.SentRequest(r.ID), 0, "received request %s has no sent copy", r.ID.Hex())
		}
	}
}
