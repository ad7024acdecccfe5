package economy

import "errors"

var (
	// ErrUserNotFound is returned when a twitch id has no users row yet.
	ErrUserNotFound = errors.New("user not found")
	// ErrItemNotFound is returned when no enabled shop item matches a name.
	ErrItemNotFound = errors.New("shop item not found")
	// ErrInsufficientPoints is returned when a spend would overdraw a balance.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrDuplicateCommand is returned when a delivery id was already recorded
	// in the dedup journal.
	ErrDuplicateCommand = errors.New("duplicate command delivery")
)
