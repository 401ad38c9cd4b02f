package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/Dias221467/when2meet/internal/repository"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserStore is the persistence the friend service needs. Each call touches
// one document; there is no cross-document atomicity.
type UserStore interface {
	GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
}

// Transactor is implemented by stores that can run several writes atomically.
// The bool result reports whether a transaction was actually used.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (bool, error)
}

// Notifier receives best-effort notifications about relationship events.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// Caller is the authenticated identity an operation runs as.
type Caller struct {
	ID    primitive.ObjectID
	Email string
}

// FriendService handles the friend request lifecycle and keeps the paired
// request copies and the friend sets of both users consistent.
type FriendService struct {
	users    UserStore
	locks    *UserLocker
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
}

// NewFriendService creates a new FriendService. timeout bounds every single
// store call and lock acquisition.
func NewFriendService(users UserStore, locks *UserLocker, timeout time.Duration) *FriendService {
	if locks == nil {
		locks = NewUserLocker()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FriendService{
		users:   users,
		locks:   locks,
		timeout: timeout,
		now:     time.Now,
	}
}

// SetNotifier registers the receiver of friend request notifications.
func (s *FriendService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SendRequest creates a request from the caller to the user with the given email.
func (s *FriendService) SendRequest(ctx context.Context, caller Caller, email string) (*models.SentRequestView, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if caller.Email != "" && NormalizeEmail(caller.Email) == email {
		return nil, ErrSelfRequest
	}

	target, err := s.loadByEmail(ctx, email)
	if err != nil {
		return nil, notFoundAs(err, ErrTargetNotFound)
	}
	if target.ID == caller.ID {
		return nil, ErrSelfRequest
	}

	unlock, err := s.lock(ctx, caller.ID, target.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	me, err := s.load(ctx, caller.ID)
	if err != nil {
		return nil, notFoundAs(err, ErrCallerNotFound)
	}
	target, err = s.load(ctx, target.ID)
	if err != nil {
		return nil, notFoundAs(err, ErrTargetNotFound)
	}

	switch {
	case me.HasFriend(target.ID) || target.HasFriend(me.ID):
		return nil, ErrAlreadyFriends
	case me.HasSentTo(target.ID) || target.HasReceivedFrom(me.ID):
		return nil, ErrDuplicateRequest
	case me.HasReceivedFrom(target.ID) || target.HasSentTo(me.ID):
		return nil, ErrReverseRequestExists
	}

	req := models.FriendRequest{
		ID:        primitive.NewObjectID(),
		From:      me.ID,
		To:        target.ID,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}

	mePre, targetPre := me.Clone(), target.Clone()
	me.SentRequests = append(me.SentRequests, req)
	target.ReceivedRequests = append(target.ReceivedRequests, req)

	if err := s.commit(ctx, "send_request", change{me, mePre}, change{target, targetPre}); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"requestID": req.ID.Hex(),
		"from":      me.ID.Hex(),
		"to":        target.ID.Hex(),
	}).Info("Friend request sent")

	s.notify(ctx, &models.Notification{
		UserID:   target.ID,
		Type:     models.NotificationFriendRequest,
		Title:    "New friend request",
		Message:  fmt.Sprintf("%s sent you a friend request", me.Username),
		ActorID:  &me.ID,
		TargetID: &req.ID,
	})

	return &models.SentRequestView{
		ID:        req.ID,
		To:        target.Public(),
		CreatedAt: req.CreatedAt,
	}, nil
}

// CancelRequest withdraws a request the caller has sent.
func (s *FriendService) CancelRequest(ctx context.Context, caller Caller, requestID primitive.ObjectID) error {
	peek, err := s.load(ctx, caller.ID)
	if err != nil {
		return notFoundAs(err, ErrCallerNotFound)
	}
	idx := peek.SentRequest(requestID)
	if idx < 0 {
		return ErrRequestNotFound
	}
	recipientID := peek.SentRequests[idx].To

	unlock, err := s.lock(ctx, caller.ID, recipientID)
	if err != nil {
		return err
	}
	defer unlock()

	me, err := s.load(ctx, caller.ID)
	if err != nil {
		return notFoundAs(err, ErrCallerNotFound)
	}
	idx = me.SentRequest(requestID)
	if idx < 0 || me.SentRequests[idx].To != recipientID || recipientID == me.ID {
		return ErrRequestNotFound
	}
	recipient, err := s.load(ctx, recipientID)
	if err != nil {
		return notFoundAs(err, ErrRecipientNotFound)
	}

	mePre, recipientPre := me.Clone(), recipient.Clone()
	me.SentRequests = append(me.SentRequests[:idx], me.SentRequests[idx+1:]...)
	recipient.RemoveReceivedFrom(me.ID)

	if err := s.commit(ctx, "cancel_request", change{me, mePre}, change{recipient, recipientPre}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"requestID": requestID.Hex(),
		"from":      me.ID.Hex(),
		"to":        recipient.ID.Hex(),
	}).Info("Friend request cancelled")
	return nil
}

// AcceptRequest turns a received request into a friendship and returns the sender.
func (s *FriendService) AcceptRequest(ctx context.Context, caller Caller, requestID primitive.ObjectID) (*models.PublicUser, error) {
	me, sender, idx, unlock, err := s.openReceived(ctx, caller, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	mePre, senderPre := me.Clone(), sender.Clone()
	me.AddFriend(sender.ID)
	sender.AddFriend(me.ID)
	me.ReceivedRequests = append(me.ReceivedRequests[:idx], me.ReceivedRequests[idx+1:]...)
	sender.RemoveSentTo(me.ID)
	// A friendship never coexists with a pending request in either direction.
	me.RemoveReceivedFrom(sender.ID)
	me.RemoveSentTo(sender.ID)
	sender.RemoveReceivedFrom(me.ID)

	if err := s.commit(ctx, "accept_request", change{me, mePre}, change{sender, senderPre}); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"requestID": requestID.Hex(),
		"userID":    me.ID.Hex(),
		"friendID":  sender.ID.Hex(),
	}).Info("Friend request accepted")

	s.notify(ctx, &models.Notification{
		UserID:   sender.ID,
		Type:     models.NotificationFriendRequestAccepted,
		Title:    "Friend request accepted",
		Message:  fmt.Sprintf("%s accepted your friend request", me.Username),
		ActorID:  &me.ID,
		TargetID: &requestID,
	})

	friend := sender.Public()
	return &friend, nil
}

// DeclineRequest drops a received request without creating a friendship.
func (s *FriendService) DeclineRequest(ctx context.Context, caller Caller, requestID primitive.ObjectID) error {
	me, sender, idx, unlock, err := s.openReceived(ctx, caller, requestID)
	if err != nil {
		return err
	}
	defer unlock()

	mePre, senderPre := me.Clone(), sender.Clone()
	me.ReceivedRequests = append(me.ReceivedRequests[:idx], me.ReceivedRequests[idx+1:]...)
	sender.RemoveSentTo(me.ID)

	if err := s.commit(ctx, "decline_request", change{me, mePre}, change{sender, senderPre}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"requestID": requestID.Hex(),
		"userID":    me.ID.Hex(),
		"senderID":  sender.ID.Hex(),
	}).Info("Friend request declined")
	return nil
}

// openReceived locks the caller and the sender of a received request and
// returns both fresh documents plus the request index in the caller's
// received collection.
func (s *FriendService) openReceived(ctx context.Context, caller Caller, requestID primitive.ObjectID) (*models.User, *models.User, int, func(), error) {
	peek, err := s.load(ctx, caller.ID)
	if err != nil {
		return nil, nil, 0, nil, notFoundAs(err, ErrCallerNotFound)
	}
	idx := peek.ReceivedRequest(requestID)
	if idx < 0 {
		return nil, nil, 0, nil, ErrRequestNotFound
	}
	senderID := peek.ReceivedRequests[idx].From
	if senderID == caller.ID {
		return nil, nil, 0, nil, ErrRequestNotFound
	}

	unlock, err := s.lock(ctx, caller.ID, senderID)
	if err != nil {
		return nil, nil, 0, nil, err
	}

	me, err := s.load(ctx, caller.ID)
	if err != nil {
		unlock()
		return nil, nil, 0, nil, notFoundAs(err, ErrCallerNotFound)
	}
	idx = me.ReceivedRequest(requestID)
	if idx < 0 || me.ReceivedRequests[idx].From != senderID {
		unlock()
		return nil, nil, 0, nil, ErrRequestNotFound
	}
	sender, err := s.load(ctx, senderID)
	if err != nil {
		unlock()
		return nil, nil, 0, nil, notFoundAs(err, ErrSenderNotFound)
	}
	return me, sender, idx, unlock, nil
}

// RemoveFriend ends a friendship on both sides. Missing membership on
// either side is not an error.
func (s *FriendService) RemoveFriend(ctx context.Context, caller Caller, friendID primitive.ObjectID) error {
	if friendID == caller.ID {
		return ErrSelfRemove
	}

	unlock, err := s.lock(ctx, caller.ID, friendID)
	if err != nil {
		return err
	}
	defer unlock()

	friend, err := s.load(ctx, friendID)
	if err != nil {
		return notFoundAs(err, ErrFriendNotFound)
	}
	me, err := s.load(ctx, caller.ID)
	if err != nil {
		return notFoundAs(err, ErrCallerNotFound)
	}

	mePre, friendPre := me.Clone(), friend.Clone()
	var changes []change
	if me.RemoveFriend(friend.ID) {
		changes = append(changes, change{me, mePre})
	}
	if friend.RemoveFriend(me.ID) {
		changes = append(changes, change{friend, friendPre})
	}
	if err := s.commit(ctx, "remove_friend", changes...); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"userID":   me.ID.Hex(),
		"friendID": friend.ID.Hex(),
		"changed":  len(changes),
	}).Info("Friend removed")
	return nil
}

// ListFriends returns the caller's friends resolved to display identities.
func (s *FriendService) ListFriends(ctx context.Context, callerID primitive.ObjectID) ([]models.PublicUser, error) {
	me, err := s.load(ctx, callerID)
	if err != nil {
		return nil, notFoundAs(err, ErrCallerNotFound)
	}
	byID, err := s.resolve(ctx, me.Friends)
	if err != nil {
		return nil, err
	}

	friends := make([]models.PublicUser, 0, len(me.Friends))
	for _, id := range me.Friends {
		if u, ok := byID[id]; ok {
			friends = append(friends, u)
		}
	}
	return friends, nil
}

// ListReceivedRequests returns the caller's incoming requests with senders resolved.
func (s *FriendService) ListReceivedRequests(ctx context.Context, callerID primitive.ObjectID) ([]models.ReceivedRequestView, error) {
	me, err := s.load(ctx, callerID)
	if err != nil {
		return nil, notFoundAs(err, ErrCallerNotFound)
	}
	ids := make([]primitive.ObjectID, 0, len(me.ReceivedRequests))
	for _, r := range me.ReceivedRequests {
		ids = append(ids, r.From)
	}
	byID, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]models.ReceivedRequestView, 0, len(me.ReceivedRequests))
	for _, r := range me.ReceivedRequests {
		from, ok := byID[r.From]
		if !ok {
			continue
		}
		views = append(views, models.ReceivedRequestView{ID: r.ID, From: from, CreatedAt: r.CreatedAt})
	}
	return views, nil
}

// ListSentRequests returns the caller's outgoing requests with recipients resolved.
func (s *FriendService) ListSentRequests(ctx context.Context, callerID primitive.ObjectID) ([]models.SentRequestView, error) {
	me, err := s.load(ctx, callerID)
	if err != nil {
		return nil, notFoundAs(err, ErrCallerNotFound)
	}
	ids := make([]primitive.ObjectID, 0, len(me.SentRequests))
	for _, r := range me.SentRequests {
		ids = append(ids, r.To)
	}
	byID, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]models.SentRequestView, 0, len(me.SentRequests))
	for _, r := range me.SentRequests {
		to, ok := byID[r.To]
		if !ok {
			continue
		}
		views = append(views, models.SentRequestView{ID: r.ID, To: to, CreatedAt: r.CreatedAt})
	}
	return views, nil
}

// change pairs a mutated document with its state as read from the store.
type change struct {
	user *models.User
	pre  *models.User
}

// commit persists the changed documents in order. With a transactional
// store every write happens in one transaction. Otherwise the writes are
// independent: if a later write fails, the earlier ones are restored from
// their pre-images on a best-effort basis and an IntegrityFaultError is
// returned.
func (s *FriendService) commit(ctx context.Context, op string, changes ...change) error {
	if len(changes) == 0 {
		return nil
	}

	if tx, ok := s.users.(Transactor); ok && len(changes) > 1 {
		used, err := tx.WithinTransaction(ctx, func(tctx context.Context) error {
			for _, c := range changes {
				// The callback may be retried, so every attempt saves fresh copies.
				if err := s.save(tctx, c.user.Clone()); err != nil {
					return err
				}
			}
			return nil
		})
		if used {
			if err != nil {
				return storeErr(err)
			}
			return nil
		}
	}

	for i, c := range changes {
		err := s.save(ctx, c.user)
		if err == nil {
			continue
		}
		if i == 0 {
			return storeErr(err)
		}

		compensated := true
		for _, done := range changes[:i] {
			if !s.restore(ctx, done) {
				compensated = false
			}
		}
		fault := &IntegrityFaultError{
			Op:          op,
			Written:     changes[0].user.ID,
			Failed:      c.user.ID,
			Compensated: compensated,
			Err:         err,
		}
		logrus.WithFields(logrus.Fields{
			"fault":       "integrity",
			"op":          op,
			"written":     fault.Written.Hex(),
			"failed":      fault.Failed.Hex(),
			"compensated": compensated,
			"error":       err,
		}).Error("Paired friend write only partially applied")
		return fault
	}
	return nil
}

// restore writes the pre-image of an already saved document back.
func (s *FriendService) restore(ctx context.Context, c change) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	back := c.pre.Clone()
	back.Version = c.user.Version
	if err := s.users.SaveUser(ctx, back); err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": c.user.ID.Hex(),
			"error":  err,
		}).Error("Failed to restore user after partial write")
		return false
	}
	return true
}

func (s *FriendService) save(ctx context.Context, u *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.users.SaveUser(ctx, u)
}

func (s *FriendService) load(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.users.GetUserByID(ctx, id)
}

func (s *FriendService) loadByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.users.GetUserByEmail(ctx, email)
}

func (s *FriendService) resolve(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.PublicUser, error) {
	byID := make(map[primitive.ObjectID]models.PublicUser, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users: %w", err)
	}
	for i := range users {
		byID[users[i].ID] = users[i].Public()
	}
	if len(byID) < len(sortedUnique(ids)) {
		logrus.WithField("requested", len(ids)).Warn("Some referenced users no longer exist")
	}
	return byID, nil
}

func (s *FriendService) lock(ctx context.Context, ids ...primitive.ObjectID) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	unlock, err := s.locks.Lock(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock users: %w", err)
	}
	return unlock, nil
}

func (s *FriendService) notify(ctx context.Context, n *models.Notification) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, n); err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": n.UserID.Hex(),
			"type":   n.Type,
			"error":  err,
		}).Warn("Failed to create notification")
	}
}

func notFoundAs(err error, notFound *Error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return notFound
	}
	return fmt.Errorf("failed to load user: %w", err)
}

func storeErr(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return ErrConcurrentUpdate
	}
	return fmt.Errorf("failed to save user: %w", err)
}
