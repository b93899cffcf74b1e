package streaming

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the minimal surface Manager needs from a WebSocket connection,
// so tests can substitute a fake instead of a real gorilla/websocket.Conn.
type wsConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// dialFunc opens a WebSocket connection to url with the given headers.
type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

// GorillaDial is the production dialFunc, grounded on
// adapter/websocket/connection_manager.go's EstablishConnection/buildWebSocketURL.
func GorillaDial(ctx context.Context, url string, header http.Header) (wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// superviseConnection is the single reconnect-loop goroutine (spec §4.D
// "Reconnect loop"). On disconnect (non-shutdown) it sleeps 5s, refreshes
// the token, allocates a new context id, re-opens the WebSocket, and
// re-enrolls the full desired UIC set — grounded on
// adapter/websocket/saxo_websocket.go's handleReconnectionRequests /
// reconnectWebSocket, simplified to the spec's fixed backoff.
func (m *Manager) superviseConnection(ctx context.Context) {
	first := true
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !first {
			select {
			case <-m.clock.After(reconnectDelay):
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		first = false

		if err := m.connectOnce(ctx); err != nil {
			m.logger.Error("websocket connect failed; will retry", "error", err)
			continue
		}

		// connectOnce blocks (via readLoop) until disconnect or shutdown.
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (m *Manager) connectOnce(ctx context.Context) error {
	token, err := m.tokenSource.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get access token for websocket: %w", err)
	}

	newContextID := m.newContextID()
	m.resetLedgerForNewContext(newContextID)

	header := http.Header{"Authorization": {"Bearer " + token}}
	url := fmt.Sprintf("%s/connect?contextid=%s", m.wsURL, newContextID)

	conn, err := m.dial(ctx, url, header)
	if err != nil {
		return err
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	m.logger.Info("websocket connected", "context_id", newContextID)

	// All currently-desired UICs must be re-enrolled after reconnect
	// (spec §4.D "Context-ID discipline").
	for _, uic := range m.desiredSnapshot() {
		if err := m.Add(uic); err != nil {
			m.logger.Warn("re-enroll after reconnect failed", "uic", uic, "error", err)
		}
	}

	m.readLoop(conn)
	return nil
}

// readLoop reads frames until the connection closes, decoding each message
// with DecodeFrames (which handles concatenated multi-frame messages) and
// routing data vs control frames.
func (m *Manager) readLoop(conn wsConn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("websocket read error; triggering reconnect", "error", err)
			_ = conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			m.logger.Debug("ignoring non-binary websocket frame", "type", msgType)
			continue
		}

		frames, decodeErr := DecodeFrames(data)
		if decodeErr != nil {
			m.logger.Error("frame decode failure; dropping malformed frame(s), keeping connection", "error", decodeErr)
		}
		for _, f := range frames {
			m.handleFrame(f)
		}
	}
}

func (m *Manager) handleFrame(f Frame) {
	if f.IsControlMessage() {
		m.handleControlFrame(f)
		return
	}
	quotes, err := ExtractQuotes(f.Payload, m.clock.Now())
	if err != nil {
		m.logger.Error("quote extraction failed", "reference_id", f.ReferenceID, "error", err)
		return
	}
	m.storeQuotes(quotes)
}

func (m *Manager) handleControlFrame(f Frame) {
	switch f.ReferenceID {
	case "_heartbeat":
		m.logger.Debug("heartbeat received")
	case "_disconnect":
		m.logger.Warn("broker requested disconnect")
		m.connMu.Lock()
		if m.conn != nil {
			_ = m.conn.Close()
		}
		m.connMu.Unlock()
	case "_resetsubscriptions":
		m.logger.Warn("subscription reset requested by broker; re-enrolling desired set")
		for _, uic := range m.desiredSnapshot() {
			m.mu.Lock()
			delete(m.ledger, uic)
			m.mu.Unlock()
			if err := m.Add(uic); err != nil {
				m.logger.Warn("re-enroll after reset failed", "uic", uic, "error", err)
			}
		}
	}
}
