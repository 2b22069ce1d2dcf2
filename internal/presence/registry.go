// Package presence tracks which connections have joined under which display
// name and pushes the full name list to every connection on each change.
package presence

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/ephemera/internal/metrics"
	"github.com/eldtechnologies/ephemera/internal/models"
)

// maxNameLength bounds display names in bytes.
const maxNameLength = 64

// Peer is a connection that can receive events.
type Peer interface {
	ID() string
	Send(env *models.Envelope)
}

type entry struct {
	peer Peer
	name string
	seq  uint64
}

// Registry maps connection handles to display names.
//
// Names are not unique. When several connections share a name, Resolve
// returns the one that joined most recently.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With().Str("component", "presence").Logger(),
	}
}

// NormalizeName trims whitespace, strips control characters and bounds length.
func NormalizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		name = strings.TrimSpace(strings.ToValidUTF8(name[:maxNameLength], ""))
	}
	return name
}

// Join registers peer under name and broadcasts the new presence list.
// A blank name is rejected without touching the registry.
func (r *Registry) Join(peer Peer, name string) bool {
	name = NormalizeName(name)
	if name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.entries[peer.ID()] = &entry{peer: peer, name: name, seq: r.seq}
	metrics.ConnectedUsers.Set(float64(len(r.entries)))

	r.logger.Info().Str("conn", peer.ID()).Str("username", name).Int("users", len(r.entries)).Msg("user joined")
	r.broadcastLocked()
	return true
}

// Leave removes the handle and broadcasts if it was registered.
func (r *Registry) Leave(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[handle]
	if !ok {
		return false
	}
	delete(r.entries, handle)
	metrics.ConnectedUsers.Set(float64(len(r.entries)))

	r.logger.Info().Str("conn", handle).Str("username", e.name).Int("users", len(r.entries)).Msg("user left")
	r.broadcastLocked()
	return true
}

// Resolve finds the connection currently registered under name.
func (r *Registry) Resolve(name string) (Peer, bool) {
	name = NormalizeName(name)
	if name == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for _, e := range r.entries {
		if e.name != name {
			continue
		}
		if best == nil || e.seq > best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.peer, true
}

// Lookup returns the peer and name registered for a handle.
func (r *Registry) Lookup(handle string) (Peer, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[handle]
	if !ok {
		return nil, "", false
	}
	return e.peer, e.name, true
}

// Snapshot returns the registered names in join order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) snapshotLocked() []string {
	ordered := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	names := make([]string, len(ordered))
	for i, e := range ordered {
		names[i] = e.name
	}
	return names
}

// broadcastLocked pushes the full name list to every registered peer.
// Peer.Send never blocks, so holding the lock keeps broadcasts ordered.
func (r *Registry) broadcastLocked() {
	env, err := models.NewEnvelope(models.EventPresenceUpdate, models.PresenceData{Users: r.snapshotLocked()})
	if err != nil {
		r.logger.Error().Err(err).Msg("encode presence update")
		return
	}
	for _, e := range r.entries {
		e.peer.Send(env)
	}
}
