package channel

import (
	"sync"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
)

type entry struct {
	id contracts.ListenerID
	fn contracts.Listener
}

// Registry maps event types to listeners in registration order.
type Registry struct {
	mu        sync.RWMutex
	next      contracts.ListenerID
	listeners map[string][]entry
}

func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[string][]entry),
	}
}

func (r *Registry) Add(eventType string, fn contracts.Listener) contracts.ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.listeners[eventType] = append(r.listeners[eventType], entry{id: r.next, fn: fn})
	return r.next
}

// Remove deletes the listener with the given id. Unknown ids are ignored.
func (r *Registry) Remove(eventType string, id contracts.ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listeners[eventType]
	for i, e := range list {
		if e.id != id {
			continue
		}
		// copy so that snapshots handed out earlier stay intact
		rest := make([]entry, 0, len(list)-1)
		rest = append(rest, list[:i]...)
		rest = append(rest, list[i+1:]...)
		if len(rest) == 0 {
			delete(r.listeners, eventType)
		} else {
			r.listeners[eventType] = rest
		}
		return true
	}
	return false
}

// Snapshot returns the listeners registered for eventType at this instant.
func (r *Registry) Snapshot(eventType string) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.listeners[eventType]
	out := make([]entry, len(list))
	copy(out, list)
	return out
}

func (r *Registry) Len(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[eventType])
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = make(map[string][]entry)
}
