package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

const writeWait = 10 * time.Second

// Dialer opens gorilla/websocket client connections.
type Dialer struct {
	dialer    *websocket.Dialer
	readLimit int64
}

func NewDialer(handshakeTimeout time.Duration, readLimit int64) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		readLimit: readLimit,
	}
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (contracts.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return NewWebSocket(conn, d.readLimit), nil
}

// WebSocket adapts a *websocket.Conn to contracts.Conn.
type WebSocket struct {
	*websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWebSocket(conn *websocket.Conn, readLimit int64) *WebSocket {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &WebSocket{Conn: conn}
}

func (w *WebSocket) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("%w: %v", domain.ErrCleanClose, err)
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame and closes the socket. Safe to call
// more than once.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		err := w.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		w.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			w.closeErr = err
		}
		if cerr := w.Conn.Close(); cerr != nil && w.closeErr == nil {
			w.closeErr = cerr
		}
	})
	return w.closeErr
}
