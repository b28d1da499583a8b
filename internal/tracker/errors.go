package tracker

import "errors"

// Every rejected operation returns one of these (wrapped) and leaves stored
// state untouched. Match with errors.Is.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotWhitelisted         = errors.New("recipient not whitelisted")
	ErrPaused                 = errors.New("contract is paused")
	ErrNotFound               = errors.New("asset not found")
	ErrAlreadyExists          = errors.New("asset already exists")
	ErrAlreadyInitialized     = errors.New("already initialized")
	ErrUnknownRole            = errors.New("unknown role")
	ErrNotOwner               = errors.New("caller is not owner or approved")
)
