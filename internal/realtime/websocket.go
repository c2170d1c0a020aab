package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrTransportClosed indicates a send on a disconnected transport.
var ErrTransportClosed = errors.New("realtime: transport closed")

// WebsocketTransport frames protocol messages as JSON over one gorilla
// websocket connection. Inbound messages are dispatched sequentially from the
// read loop; the ready handshake is handled here by answering the client's
// ready request.
type WebsocketTransport struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu                 sync.Mutex
	ready              bool
	closed             bool
	nextHandlerID      int64
	messageHandlers    map[MessageType]map[int64]func(Message)
	readyHandlers      map[int64]func()
	disconnectHandlers map[int64]func()

	disconnectOnce sync.Once
}

// NewWebsocketTransport wraps an upgraded websocket connection. Run must be
// started on its own goroutine after the connection is registered with a
// session.
func NewWebsocketTransport(conn *websocket.Conn, logger *zap.Logger) *WebsocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketTransport{
		conn:               conn,
		logger:             logger,
		messageHandlers:    make(map[MessageType]map[int64]func(Message)),
		readyHandlers:      make(map[int64]func()),
		disconnectHandlers: make(map[int64]func()),
	}
}

// Run reads frames until the connection fails or is closed, dispatching each
// decoded message. The disconnect handlers fire exactly once on exit.
func (t *WebsocketTransport) Run() {
	defer t.fireDisconnect()
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		var message Message
		if err := json.Unmarshal(payload, &message); err != nil {
			t.logger.Warn("dropping malformed websocket frame", zap.Error(err))
			continue
		}
		t.dispatch(message)
	}
}

// Send writes one message frame.
func (t *WebsocketTransport) Send(message Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// IsReady reports whether the client completed the ready handshake.
func (t *WebsocketTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// Disconnect closes the underlying connection. The read loop exit fires the
// disconnect handlers; when Run was never started they fire here instead.
func (t *WebsocketTransport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	if err := t.conn.Close(); err != nil {
		t.logger.Debug("websocket close failed", zap.Error(err))
	}
	t.fireDisconnect()
}

// Subscribe registers a handler for one message type.
func (t *WebsocketTransport) Subscribe(messageType MessageType, handler func(Message)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.messageHandlers[messageType]; !ok {
		t.messageHandlers[messageType] = make(map[int64]func(Message))
	}
	t.nextHandlerID++
	id := t.nextHandlerID
	t.messageHandlers[messageType][id] = handler
	return func() {
		t.mu.Lock()
		delete(t.messageHandlers[messageType], id)
		t.mu.Unlock()
	}
}

// OnReady registers a ready-handshake handler.
func (t *WebsocketTransport) OnReady(handler func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextHandlerID++
	id := t.nextHandlerID
	t.readyHandlers[id] = handler
	return func() {
		t.mu.Lock()
		delete(t.readyHandlers, id)
		t.mu.Unlock()
	}
}

// OnDisconnect registers a disconnect handler.
func (t *WebsocketTransport) OnDisconnect(handler func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextHandlerID++
	id := t.nextHandlerID
	t.disconnectHandlers[id] = handler
	return func() {
		t.mu.Lock()
		delete(t.disconnectHandlers, id)
		t.mu.Unlock()
	}
}

func (t *WebsocketTransport) dispatch(message Message) {
	if message.Type == MessageTypeReadyRequest {
		t.completeReadyHandshake()
		return
	}
	t.mu.Lock()
	handlers := make([]func(Message), 0, len(t.messageHandlers[message.Type]))
	for _, handler := range t.messageHandlers[message.Type] {
		handlers = append(handlers, handler)
	}
	t.mu.Unlock()
	for _, handler := range handlers {
		handler(message)
	}
}

func (t *WebsocketTransport) completeReadyHandshake() {
	t.mu.Lock()
	alreadyReady := t.ready
	t.ready = true
	handlers := make([]func(), 0, len(t.readyHandlers))
	for _, handler := range t.readyHandlers {
		handlers = append(handlers, handler)
	}
	t.mu.Unlock()

	if err := t.Send(Message{Type: MessageTypeReadyReply}); err != nil {
		t.logger.Debug("failed to acknowledge ready request", zap.Error(err))
	}
	if alreadyReady {
		return
	}
	for _, handler := range handlers {
		handler()
	}
}

func (t *WebsocketTransport) fireDisconnect() {
	t.disconnectOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		handlers := make([]func(), 0, len(t.disconnectHandlers))
		for _, handler := range t.disconnectHandlers {
			handlers = append(handlers, handler)
		}
		t.mu.Unlock()
		for _, handler := range handlers {
			handler()
		}
	})
}
