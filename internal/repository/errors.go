package repository

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already in use")
	ErrVersionConflict      = errors.New("user document was modified concurrently")
	ErrNotificationNotFound = errors.New("notification not found")
)
