package subscription

import "errors"

var (
	// ErrStreamNotFound indicates a stream key the registry does not know
	ErrStreamNotFound = errors.New("stream not found")
	// ErrAlreadySubscribed indicates a subscription with the same ID exists
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrBindFailed indicates the receive socket could not be bound
	ErrBindFailed = errors.New("bind failed")
	// ErrNotFound indicates an unknown subscription ID
	ErrNotFound = errors.New("subscription not found")
	// ErrManagerClosed indicates the manager has been shut down
	ErrManagerClosed = errors.New("subscription manager closed")
)
