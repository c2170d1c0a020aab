package realtime

import (
	"sync"
)

// fakeTransport is an in-memory Transport for exercising adapters and
// sessions without a network connection.
type fakeTransport struct {
	mu                 sync.Mutex
	ready              bool
	closed             bool
	sent               []Message
	nextHandlerID      int64
	messageHandlers    map[MessageType]map[int64]func(Message)
	readyHandlers      map[int64]func()
	disconnectHandlers map[int64]func()
	disconnectOnce     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messageHandlers:    make(map[MessageType]map[int64]func(Message)),
		readyHandlers:      make(map[int64]func()),
		disconnectHandlers: make(map[int64]func()),
	}
}

func (t *fakeTransport) Send(message Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.sent = append(t.sent, message)
	return nil
}

func (t *fakeTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.fireDisconnect()
}

func (t *fakeTransport) Subscribe(messageType MessageType, handler func(Message)) func() {
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

func (t *fakeTransport) OnReady(handler func()) func() {
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

func (t *fakeTransport) OnDisconnect(handler func()) func() {
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

// markReady flips the transport to ready and fires the ready handlers, the
// way a completed handshake would.
func (t *fakeTransport) markReady() {
	t.mu.Lock()
	alreadyReady := t.ready
	t.ready = true
	handlers := make([]func(), 0, len(t.readyHandlers))
	for _, handler := range t.readyHandlers {
		handlers = append(handlers, handler)
	}
	t.mu.Unlock()
	if alreadyReady {
		return
	}
	for _, handler := range handlers {
		handler()
	}
}

// receive dispatches an inbound message to the subscribed handlers.
func (t *fakeTransport) receive(message Message) {
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

func (t *fakeTransport) fireDisconnect() {
	t.disconnectOnce.Do(func() {
		t.mu.Lock()
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

func (t *fakeTransport) sentMessages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make([]Message, len(t.sent))
	copy(snapshot, t.sent)
	return snapshot
}

func (t *fakeTransport) sentOfType(messageType MessageType) []Message {
	var matching []Message
	for _, message := range t.sentMessages() {
		if message.Type == messageType {
			matching = append(matching, message)
		}
	}
	return matching
}

func (t *fakeTransport) clearSent() {
	t.mu.Lock()
	t.sent = nil
	t.mu.Unlock()
}
