// Package presence tracks who is currently in the video room.
package presence

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"campus/pkg/interfaces"
	"campus/pkg/types"
)

var _ interfaces.PresenceManager = (*Manager)(nil)

// Manager keeps the room roster in memory, keyed by username.
// FUNCTIONAL DISCOVERY: presence is not persisted; a restart empties the room
type Manager struct {
	users map[string]*types.VideoUser // username -> VideoUser
	now   func() time.Time
	log   zerolog.Logger
	mu    sync.RWMutex
}

// NewManager creates an empty roster.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		users: make(map[string]*types.VideoUser),
		now:   time.Now,
		log:   log.With().Str("component", "presence").Logger(),
	}
}

// Join records username with peerID. Joining again replaces the peer ID.
func (m *Manager) Join(username, peerID string) error {
	username = strings.TrimSpace(username)
	peerID = strings.TrimSpace(peerID)
	if username == "" || len(username) > 100 {
		return ErrInvalidUsername
	}
	if peerID == "" || len(peerID) > 200 {
		return ErrInvalidPeerID
	}

	m.mu.Lock()
	_, rejoin := m.users[username]
	m.users[username] = &types.VideoUser{Username: username, PeerID: peerID, JoinedAt: m.now()}
	count := len(m.users)
	m.mu.Unlock()

	m.log.Info().Str("username", username).Bool("rejoin", rejoin).Int("present", count).Msg("video user joined")
	return nil
}

// Leave removes username from the room.
func (m *Manager) Leave(username string) {
	username = strings.TrimSpace(username)

	m.mu.Lock()
	_, ok := m.users[username]
	delete(m.users, username)
	count := len(m.users)
	m.mu.Unlock()

	if ok {
		m.log.Info().Str("username", username).Int("present", count).Msg("video user left")
	}
}

// List returns copies of the present users sorted by username.
func (m *Manager) List() []*types.VideoUser {
	m.mu.RLock()
	users := make([]*types.VideoUser, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		users = append(users, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// Count returns the number of present users.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}
