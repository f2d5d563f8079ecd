package presence

import "errors"

var (
	ErrInvalidUsername = errors.New("username must be 1-100 characters")
	ErrInvalidPeerID   = errors.New("peer_id must be 1-200 characters")
)
