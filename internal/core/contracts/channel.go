package contracts

import "encoding/json"

// Listener receives the data field of a dispatched envelope.
type Listener func(data json.RawMessage)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// Channel is the publish/subscribe surface of the push channel as seen by
// components that do not care about socket mechanics.
type Channel interface {
	On(eventType string, l Listener) ListenerID
	Off(eventType string, id ListenerID)
	SubscribeToJob(jobID string) error
	UnsubscribeFromJob(jobID string) error
}
