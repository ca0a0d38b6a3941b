package contracts

import (
	"context"
	"net/http"
)

// Dialer opens the physical push connection. The channel manager owns the
// returned Conn exclusively.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is the minimal surface the channel manager needs from a socket.
type Conn interface {
	// ReadMessage blocks for the next frame. A normal closure by the peer is
	// reported as an error wrapping domain.ErrCleanClose.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error
	// Close sends a normal-closure frame (best effort) and releases the socket.
	Close() error
}
