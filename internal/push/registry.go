package push

import "sync"

// Registry maps each subscriber to at most one open channel. It is owned by
// the server and injected into the endpoint and broadcaster.
type Registry struct {
	mu       sync.Mutex
	channels map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register stores ch for userID. Last connection wins: a previously
// registered channel for the same user is closed.
func (r *Registry) Register(userID string, ch Channel) {
	r.mu.Lock()
	previous := r.channels[userID]
	r.channels[userID] = ch
	r.mu.Unlock()

	if previous != nil && previous != ch {
		_ = previous.Close()
	}
}

// Unregister removes the entry for userID only if it still holds ch, so a
// late disconnect from an old connection cannot evict its replacement.
func (r *Registry) Unregister(userID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.channels[userID]; ok && current == ch {
		delete(r.channels, userID)
		return true
	}
	return false
}

func (r *Registry) Lookup(userID string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[userID]
	return ch, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// CloseAll empties the registry and closes every channel. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
}
