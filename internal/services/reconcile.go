package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Issue kinds found by the reconciler.
const (
	IssueOrphanSent            = "orphan_sent_request"
	IssueOrphanReceived        = "orphan_received_request"
	IssueMismatchedPair        = "mismatched_request_pair"
	IssueOneSidedFriendship    = "one_sided_friendship"
	IssueDuplicateRequest      = "duplicate_request"
	IssueSelfReference         = "self_reference"
	IssuePendingBetweenFriends = "pending_request_between_friends"
)

// ScanStore is the persistence the reconciler needs.
type ScanStore interface {
	UserStore
	GetAllUsers(ctx context.Context) ([]*models.User, error)
}

// Issue is one inconsistency found in a user document.
type Issue struct {
	Kind      string             `json:"kind"`
	UserID    primitive.ObjectID `json:"userId"`
	OtherID   primitive.ObjectID `json:"otherId,omitempty"`
	RequestID primitive.ObjectID `json:"requestId,omitempty"`
}

// Report summarizes a reconciliation run.
type Report struct {
	UsersScanned int     `json:"usersScanned"`
	Issues       []Issue `json:"issues"`
	Repaired     int     `json:"repaired"`
	// Skipped counts users whose issues no longer held when re-checked
	// under their locks.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Reconciler finds, and optionally repairs, documents left inconsistent by
// partially applied friend operations. Repairs only ever remove entries:
// orphaned request copies, one-sided friendships, self references, pending
// requests between friends and all but the oldest of duplicate requests.
type Reconciler struct {
	users   ScanStore
	locks   *UserLocker
	timeout time.Duration
}

func NewReconciler(users ScanStore, locks *UserLocker, timeout time.Duration) *Reconciler {
	if locks == nil {
		locks = NewUserLocker()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reconciler{users: users, locks: locks, timeout: timeout}
}

type userFix struct {
	sent     map[primitive.ObjectID]bool
	received map[primitive.ObjectID]bool
	friends  map[primitive.ObjectID]bool
}

func (f *userFix) empty() bool {
	return len(f.sent) == 0 && len(f.received) == 0 && len(f.friends) == 0
}

// intersect keeps the entries flagged by both fixes.
func (f *userFix) intersect(other *userFix) *userFix {
	out := &userFix{
		sent:     map[primitive.ObjectID]bool{},
		received: map[primitive.ObjectID]bool{},
		friends:  map[primitive.ObjectID]bool{},
	}
	for id := range f.sent {
		if other.sent[id] {
			out.sent[id] = true
		}
	}
	for id := range f.received {
		if other.received[id] {
			out.received[id] = true
		}
	}
	for id := range f.friends {
		if other.friends[id] {
			out.friends[id] = true
		}
	}
	return out
}

func newPlanner(users []*models.User) *planner {
	p := &planner{
		users: make(map[primitive.ObjectID]*models.User, len(users)),
		fixes: map[primitive.ObjectID]*userFix{},
	}
	for _, u := range users {
		p.users[u.ID] = u
	}
	for _, u := range users {
		p.checkFriends(u)
		p.checkSent(u)
		p.checkReceived(u)
	}
	p.checkDuplicates(users)
	return p
}

type planner struct {
	users  map[primitive.ObjectID]*models.User
	fixes  map[primitive.ObjectID]*userFix
	issues []Issue
}

func (p *planner) fix(id primitive.ObjectID) *userFix {
	f, ok := p.fixes[id]
	if !ok {
		f = &userFix{
			sent:     map[primitive.ObjectID]bool{},
			received: map[primitive.ObjectID]bool{},
			friends:  map[primitive.ObjectID]bool{},
		}
		p.fixes[id] = f
	}
	return f
}

func (p *planner) report(kind string, user, other, request primitive.ObjectID) {
	p.issues = append(p.issues, Issue{Kind: kind, UserID: user, OtherID: other, RequestID: request})
}

func (p *planner) mutualFriends(a, b primitive.ObjectID) bool {
	ua, okA := p.users[a]
	ub, okB := p.users[b]
	return okA && okB && ua.HasFriend(b) && ub.HasFriend(a)
}

// Scan checks every user document without locking. With repair, each
// affected user is fixed under the locks of itself and every user it refers
// to, after the checks pass again on freshly read documents. A friend
// operation of this process caught halfway by the snapshot has finished by
// then and is left alone.
func (r *Reconciler) Scan(ctx context.Context, repair bool) (*Report, error) {
	all, err := r.users.GetAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	p := newPlanner(all)

	report := &Report{UsersScanned: len(all), Issues: p.issues}
	if report.Issues == nil {
		report.Issues = []Issue{}
	}

	if repair {
		ids := make([]primitive.ObjectID, 0, len(p.fixes))
		for id, f := range p.fixes {
			if !f.empty() {
				ids = append(ids, id)
			}
		}
		for _, id := range sortedUnique(ids) {
			repaired, err := r.apply(ctx, p.users[id], p.fixes[id])
			switch {
			case err != nil:
				report.Failed++
				logrus.WithFields(logrus.Fields{
					"userID": id.Hex(),
					"error":  err,
				}).Warn("Failed to repair user")
			case !repaired:
				report.Skipped++
				logrus.WithField("userID", id.Hex()).Info("Issues resolved since the scan, nothing to repair")
			default:
				report.Repaired++
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"users":    report.UsersScanned,
		"issues":   len(report.Issues),
		"repaired": report.Repaired,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	}).Info("Friend reconciliation finished")
	return report, nil
}

func (p *planner) checkFriends(u *models.User) {
	for _, f := range u.Friends {
		switch other, ok := p.users[f]; {
		case f == u.ID:
			p.report(IssueSelfReference, u.ID, f, primitive.NilObjectID)
			p.fix(u.ID).friends[f] = true
		case !ok || !other.HasFriend(u.ID):
			p.report(IssueOneSidedFriendship, u.ID, f, primitive.NilObjectID)
			p.fix(u.ID).friends[f] = true
		}
	}
}

func (p *planner) checkSent(u *models.User) {
	for _, r := range u.SentRequests {
		if r.To == u.ID {
			p.report(IssueSelfReference, u.ID, r.To, r.ID)
			p.fix(u.ID).sent[r.ID] = true
			continue
		}
		if r.From != u.ID {
			p.report(IssueMismatchedPair, u.ID, r.To, r.ID)
			p.fix(u.ID).sent[r.ID] = true
			continue
		}
		other, ok := p.users[r.To]
		idx := -1
		if ok {
			idx = other.ReceivedRequest(r.ID)
		}
		if idx < 0 {
			p.report(IssueOrphanSent, u.ID, r.To, r.ID)
			p.fix(u.ID).sent[r.ID] = true
			continue
		}
		if c := other.ReceivedRequests[idx]; c.From != r.From || c.To != r.To {
			p.report(IssueMismatchedPair, u.ID, r.To, r.ID)
			p.fix(u.ID).sent[r.ID] = true
			continue
		}
		if p.mutualFriends(u.ID, r.To) {
			p.report(IssuePendingBetweenFriends, u.ID, r.To, r.ID)
			p.fix(u.ID).sent[r.ID] = true
		}
	}
}

func (p *planner) checkReceived(u *models.User) {
	for _, r := range u.ReceivedRequests {
		if r.From == u.ID {
			p.report(IssueSelfReference, u.ID, r.From, r.ID)
			p.fix(u.ID).received[r.ID] = true
			continue
		}
		if r.To != u.ID {
			p.report(IssueMismatchedPair, u.ID, r.From, r.ID)
			p.fix(u.ID).received[r.ID] = true
			continue
		}
		other, ok := p.users[r.From]
		idx := -1
		if ok {
			idx = other.SentRequest(r.ID)
		}
		if idx < 0 {
			p.report(IssueOrphanReceived, u.ID, r.From, r.ID)
			p.fix(u.ID).received[r.ID] = true
			continue
		}
		if c := other.SentRequests[idx]; c.From != r.From || c.To != r.To {
			p.report(IssueMismatchedPair, u.ID, r.From, r.ID)
			p.fix(u.ID).received[r.ID] = true
			continue
		}
		if p.mutualFriends(u.ID, r.From) {
			p.report(IssuePendingBetweenFriends, u.ID, r.From, r.ID)
			p.fix(u.ID).received[r.ID] = true
		}
	}
}

// checkDuplicates keeps the oldest of several healthy requests between the
// same two users, in either direction.
func (p *planner) checkDuplicates(all []*models.User) {
	type pairKey [2]primitive.ObjectID
	groups := map[pairKey][]models.FriendRequest{}

	for _, u := range all {
		for _, r := range u.SentRequests {
			if p.fix(u.ID).sent[r.ID] {
				continue
			}
			ids := sortedUnique([]primitive.ObjectID{r.From, r.To})
			if len(ids) != 2 {
				continue
			}
			key := pairKey{ids[0], ids[1]}
			groups[key] = append(groups[key], r)
		}
	}

	for _, reqs := range groups {
		if len(reqs) < 2 {
			continue
		}
		sort.Slice(reqs, func(i, j int) bool {
			if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
				return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
			}
			return reqs[i].ID.Hex() < reqs[j].ID.Hex()
		})
		for _, r := range reqs[1:] {
			p.report(IssueDuplicateRequest, r.From, r.To, r.ID)
			p.fix(r.From).sent[r.ID] = true
			p.fix(r.To).received[r.ID] = true
		}
	}
}

// related lists every user a document refers to.
func related(u *models.User) []primitive.ObjectID {
	ids := []primitive.ObjectID{u.ID}
	ids = append(ids, u.Friends...)
	for _, r := range u.SentRequests {
		ids = append(ids, r.From, r.To)
	}
	for _, r := range u.ReceivedRequests {
		ids = append(ids, r.From, r.To)
	}
	return sortedUnique(ids)
}

// apply removes the entries flagged by the scan from one user. The user and
// every user it referred to at scan time are locked and re-read, the checks
// run again on the fresh documents, and only entries that are still broken
// are removed. It reports whether anything was written.
func (r *Reconciler) apply(ctx context.Context, scanned *models.User, scanFix *userFix) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := related(scanned)
	unlock, err := r.locks.Lock(ctx, ids...)
	if err != nil {
		return false, err
	}
	defer unlock()

	found, err := r.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("failed to reload users: %w", err)
	}
	fresh := make([]*models.User, 0, len(found))
	var u *models.User
	for i := range found {
		fresh = append(fresh, &found[i])
		if found[i].ID == scanned.ID {
			u = &found[i]
		}
	}
	if u == nil {
		// Deleted since the scan.
		return false, nil
	}

	f := scanFix.intersect(newPlanner(fresh).fix(u.ID))
	if f.empty() {
		return false, nil
	}

	friends := u.Friends[:0]
	for _, fid := range u.Friends {
		if !f.friends[fid] {
			friends = append(friends, fid)
		}
	}
	u.Friends = friends

	sent := u.SentRequests[:0]
	for _, req := range u.SentRequests {
		if !f.sent[req.ID] {
			sent = append(sent, req)
		}
	}
	u.SentRequests = sent

	received := u.ReceivedRequests[:0]
	for _, req := range u.ReceivedRequests {
		if !f.received[req.ID] {
			received = append(received, req)
		}
	}
	u.ReceivedRequests = received

	if err := r.users.SaveUser(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}
