package interfaces

import "campus/pkg/types"

// PresenceManager tracks who is in the video room.
type PresenceManager interface {
	// Join records or refreshes username's peer ID.
	Join(username, peerID string) error

	// Leave removes username. Unknown users are ignored.
	Leave(username string)

	// List returns present users sorted by username.
	List() []*types.VideoUser
}
