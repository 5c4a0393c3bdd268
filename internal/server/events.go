// Package server defines the wire-level event envelope and payload types
// exchanged between clients and the relay.
package server

import "encoding/json"

// Client-emitted event names.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
)

// Server-emitted event names.
const (
	EventUserCountUpdate   = "user_count_update"
	EventReceiveMessage    = "receive_message"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
)

// Envelope is the JSON frame carried over the websocket in both directions:
// an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Message is a chat message in flight between a sender and the other members
// of its room. The relay never stores it; Body holds either message text or
// the URL of an uploaded file (Kind "file").
type Message struct {
	Body     string `json:"message"`
	Room     string `json:"room"`
	Author   string `json:"author"`
	UserID   string `json:"userId"`
	Time     string `json:"time"`
	Kind     string `json:"type,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

// Presence is the typing-indicator payload. Clients include the target room;
// the relay strips it before fan-out so peers receive only the identity.
type Presence struct {
	Room     string `json:"room,omitempty"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

// UploadResult is the response body of the file upload endpoint.
type UploadResult struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func mustMarshalEnvelope(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		// All server-built payloads are marshalable; this guards refactors.
		panic("server: marshal envelope data: " + err.Error())
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		panic("server: marshal envelope: " + err.Error())
	}
	return frame
}
