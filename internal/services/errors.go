package services

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind classifies service errors so that transports can map them to status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindConcurrency
	KindIntegrity
)

// Error is a classified service error carrying a message safe to show to clients.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Friend relationship errors.
var (
	ErrEmailRequired        = newError(KindValidation, "Email is required")
	ErrInvalidEmail         = newError(KindValidation, "Invalid email format")
	ErrSelfRequest          = newError(KindValidation, "You cannot add yourself as a friend")
	ErrSelfRemove           = newError(KindValidation, "You cannot remove yourself as a friend")
	ErrCallerNotFound       = newError(KindNotFound, "Current user not found")
	ErrTargetNotFound       = newError(KindNotFound, "User not found")
	ErrRequestNotFound      = newError(KindNotFound, "Friend request not found")
	ErrRecipientNotFound    = newError(KindNotFound, "Recipient not found")
	ErrSenderNotFound       = newError(KindNotFound, "Sender not found")
	ErrFriendNotFound       = newError(KindNotFound, "Friend not found")
	ErrAlreadyFriends       = newError(KindConflict, "Already friends with this user")
	ErrDuplicateRequest     = newError(KindConflict, "Friend request already sent")
	ErrReverseRequestExists = newError(KindConflict, "This user has already sent you a friend request")
	ErrConcurrentUpdate     = newError(KindConcurrency, "Friend data changed while the request was processed, please retry")
)

// Account errors.
var (
	ErrMissingFields        = newError(KindValidation, "Username, email and password are required")
	ErrEmailInUse           = newError(KindConflict, "User already exists")
	ErrInvalidCredentials   = newError(KindUnauthorized, "Invalid email or password")
	ErrInvalidResetToken    = newError(KindValidation, "Invalid or expired reset token")
	ErrAccountNotFound      = newError(KindNotFound, "User not found")
	ErrEmailNotSent         = newError(KindInternal, "Email could not be sent")
	ErrNotificationNotFound = newError(KindNotFound, "Notification not found")
)

// PasswordPolicyError lists every password rule a candidate password failed.
type PasswordPolicyError struct {
	Errors []string
}

func (e *PasswordPolicyError) Error() string {
	return "invalid password: " + strings.Join(e.Errors, "; ")
}

// IntegrityFaultError reports that the first of two paired document writes
// succeeded and the second failed. Compensated tells whether the first
// document was restored to its previous state.
type IntegrityFaultError struct {
	Op          string
	Written     primitive.ObjectID
	Failed      primitive.ObjectID
	Compensated bool
	Err         error
}

func (e *IntegrityFaultError) Error() string {
	return fmt.Sprintf("%s: write to user %s failed after user %s was saved (compensated=%t): %v",
		e.Op, e.Failed.Hex(), e.Written.Hex(), e.Compensated, e.Err)
}

func (e *IntegrityFaultError) Unwrap() error { return e.Err }
