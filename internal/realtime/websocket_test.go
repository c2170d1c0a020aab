package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestTransport spins up a real websocket pair: the server side wrapped in
// a WebsocketTransport with its read loop running, the client side returned
// raw for the test to drive.
func dialTestTransport(t *testing.T) (*WebsocketTransport, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	transportCh := make(chan *WebsocketTransport, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		transport := NewWebsocketTransport(conn, nil)
		transportCh <- transport
		transport.Run()
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case transport := <-transportCh:
		return transport, client
	case <-time.After(2 * time.Second):
		t.Fatal("server transport never materialized")
		return nil, nil
	}
}

func readClientMessage(t *testing.T, client *websocket.Conn) Message {
	t.Helper()
	if err := client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	var message Message
	if err := client.ReadJSON(&message); err != nil {
		t.Fatalf("reading client message failed: %v", err)
	}
	return message
}

func TestWebsocketTransportReadyHandshake(t *testing.T) {
	transport, client := dialTestTransport(t)

	readyCh := make(chan struct{})
	transport.OnReady(func() { close(readyCh) })

	if transport.IsReady() {
		t.Fatal("transport reported ready before the handshake")
	}
	if err := client.WriteJSON(Message{Type: MessageTypeReadyRequest}); err != nil {
		t.Fatalf("sending ready request failed: %v", err)
	}

	select {
	case <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ready handler never fired")
	}
	if !transport.IsReady() {
		t.Fatal("transport did not report ready after the handshake")
	}
	if reply := readClientMessage(t, client); reply.Type != MessageTypeReadyReply {
		t.Fatalf("expected a ready reply, got %q", reply.Type)
	}
}

func TestWebsocketTransportDispatchesTypedMessages(t *testing.T) {
	transport, client := dialTestTransport(t)

	received := make(chan Message, 1)
	transport.Subscribe(MessageTypePresenceSingleUpdate, func(message Message) {
		received <- message
	})

	if err := client.WriteJSON(Message{
		Type:   MessageTypePresenceSingleUpdate,
		Cursor: &CursorRange{From: 2, To: 5},
	}); err != nil {
		t.Fatalf("sending cursor update failed: %v", err)
	}

	select {
	case message := <-received:
		if message.Cursor == nil || message.Cursor.From != 2 || message.Cursor.To != 5 {
			t.Fatalf("unexpected dispatched message: %+v", message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typed message was never dispatched")
	}
}

func TestWebsocketTransportSendRoundTrip(t *testing.T) {
	transport, client := dialTestTransport(t)

	payload := []byte{0x01, 0x02, 0x03}
	if err := transport.Send(Message{Type: MessageTypeNoteContentUpdate, Update: payload}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	message := readClientMessage(t, client)
	if message.Type != MessageTypeNoteContentUpdate {
		t.Fatalf("expected a content update frame, got %q", message.Type)
	}
	if len(message.Update) != len(payload) {
		t.Fatalf("payload length mismatch: got %d, want %d", len(message.Update), len(payload))
	}
}

func TestWebsocketTransportDisconnectFiresHandlersOnce(t *testing.T) {
	transport, _ := dialTestTransport(t)

	disconnects := make(chan struct{}, 4)
	transport.OnDisconnect(func() { disconnects <- struct{}{} })

	transport.Disconnect()
	transport.Disconnect()

	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler never fired")
	}
	select {
	case <-disconnects:
		t.Fatal("disconnect handler fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}
