package websocket

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"campus/pkg/interfaces"
)

// Registry maps each identity to its single live channel.
// ARCHITECTURAL DISCOVERY: the broadcast set is derived from the map values,
// there is no second structure to keep in sync
type Registry struct {
	mu       sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy snapshot patterns
	channels map[string]interfaces.Channel
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		channels: make(map[string]interfaces.Channel),
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// Register admits ch as the live channel for its identity. A previous channel
// for the same identity is closed and dropped first, under the same lock, so
// there is never an instant with two live channels for one identity.
func (r *Registry) Register(ch interfaces.Channel) {
	if ch == nil {
		return
	}
	identity := ch.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.channels[identity]; ok {
		if existing == ch {
			return
		}
		delete(r.channels, identity)
		if err := existing.Close(); err != nil {
			r.log.Debug().Err(err).Str("identity", identity).Msg("closing superseded channel")
		}
		r.log.Info().Str("identity", identity).Msg("replaced existing connection")
	}

	r.channels[identity] = ch
}

// Unregister removes ch only if it is still the live channel for its identity.
// RACE CONDITION FIX: a superseded channel's late cleanup must not evict its replacement
func (r *Registry) Unregister(ch interfaces.Channel) bool {
	if ch == nil {
		return false
	}
	identity := ch.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.channels[identity]; !ok || registered != ch {
		return false
	}
	delete(r.channels, identity)
	return true
}

// Snapshot returns the live channels at this instant. Callers deliver outside the lock.
func (r *Registry) Snapshot() []interfaces.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Lookup returns the live channel for identity.
func (r *Registry) Lookup(identity string) (interfaces.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[identity]
	return ch, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Identities returns the connected identities, sorted.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CloseAll closes and drops every channel. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]interfaces.Channel)
	r.mu.Unlock()

	for identity, ch := range channels {
		if err := ch.Close(); err != nil {
			r.log.Debug().Err(err).Str("identity", identity).Msg("closing channel on shutdown")
		}
	}
}
