package realtime

// MessageType enumerates the logical protocol messages exchanged with clients.
type MessageType string

const (
	// MessageTypeReadyRequest is sent by a client once its transport is able to receive.
	MessageTypeReadyRequest MessageType = "ready-request"
	// MessageTypeReadyReply acknowledges a ready request.
	MessageTypeReadyReply MessageType = "ready-reply"
	// MessageTypeNoteContentUpdate carries a binary document sync payload.
	MessageTypeNoteContentUpdate MessageType = "note-content-update"
	// MessageTypePresenceStateRequest asks the server for the current presence roster.
	MessageTypePresenceStateRequest MessageType = "presence-state-request"
	// MessageTypePresenceStateSet delivers a full presence roster to one client.
	MessageTypePresenceStateSet MessageType = "presence-state-set"
	// MessageTypePresenceSingleUpdate carries a cursor position change.
	MessageTypePresenceSingleUpdate MessageType = "presence-single-update"
	// MessageTypePresenceSetActivity toggles the sender's activity flag.
	MessageTypePresenceSetActivity MessageType = "presence-set-activity"
	// MessageTypeMetadataUpdated signals that note metadata changed; no payload.
	MessageTypeMetadataUpdated MessageType = "metadata-updated"
	// MessageTypeDocumentDeleted signals that the note was deleted; no payload.
	MessageTypeDocumentDeleted MessageType = "document-deleted"
)

// CursorRange describes a selection inside the shared document.
type CursorRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// PresenceState is the full presence record of one connection.
type PresenceState struct {
	Active      bool         `json:"active"`
	Cursor      *CursorRange `json:"cursor,omitempty"`
	StyleIndex  int          `json:"style_index"`
	DisplayName string       `json:"display_name"`
	Username    string       `json:"username,omitempty"`
}

// PresenceSummary is the reduced self-view included in a roster reply.
type PresenceSummary struct {
	DisplayName string `json:"display_name"`
	StyleIndex  int    `json:"style_index"`
}

// PresenceRoster is the payload of a presence-state-set message: the
// recipient's own summary plus the full records of every other peer.
type PresenceRoster struct {
	Self  PresenceSummary `json:"self"`
	Peers []PresenceState `json:"peers"`
}

// Message is the JSON envelope framed over the transport. Exactly the fields
// relevant to the message type are populated; []byte payloads are base64 on
// the wire.
type Message struct {
	Type   MessageType     `json:"type"`
	Update []byte          `json:"update,omitempty"`
	Cursor *CursorRange    `json:"cursor,omitempty"`
	Active *bool           `json:"active,omitempty"`
	Roster *PresenceRoster `json:"roster,omitempty"`
}
