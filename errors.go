package aes67

import "errors"

var (
	// ErrSenderExists indicates a sender ID already in use
	ErrSenderExists = errors.New("sender already exists")
	// ErrSenderNotFound indicates an unknown sender ID
	ErrSenderNotFound = errors.New("sender not found")
	// ErrNodeClosed indicates a command on a closed node
	ErrNodeClosed = errors.New("node closed")
	// ErrNoIPv4Address indicates no usable local IPv4 address was found
	ErrNoIPv4Address = errors.New("no IPv4 address available")
)
