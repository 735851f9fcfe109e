package collab

import "encoding/json"

// Event names exchanged over the bidirectional channel.
const (
	EventJoinRoom      = "join_room"
	EventRoomJoined    = "room_joined"
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventUpdate        = "update"
	EventCursorUpdate  = "cursor_update"
	EventCountsUpdated = "counts_updated"
	EventSyncStep1     = "sync_step1"
	EventSyncStep2     = "sync_step2"
	EventPing          = "ping"
	EventPong          = "pong"
	EventLeave         = "leave"
	EventError         = "error"
)

// Message is an inbound frame whose payload is decoded by the handler for its type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// JoinRoomPayload starts the join protocol.
type JoinRoomPayload struct {
	DocumentID string `json:"documentId"`
	ClientID   string `json:"clientId"`
	Token      string `json:"token,omitempty"`
}

// UserPresence describes one member of a room.
type UserPresence struct {
	UserID   string `json:"userId"`
	ClientID string `json:"clientId"`
	Name     string `json:"name,omitempty"`
	Color    string `json:"color,omitempty"`
}

// RoomJoinedPayload completes the join protocol.
type RoomJoinedPayload struct {
	DocumentID  string         `json:"documentId"`
	ClientID    string         `json:"clientId"`
	Users       []UserPresence `json:"users"`
	DocState    []byte         `json:"docState"`
	LamportTime int64          `json:"lamportTime"`
	Recovered   int            `json:"recovered"`
	Conflicts   int            `json:"conflicts"`
}

// UpdatePayload is a client content mutation.
type UpdatePayload struct {
	Update   []byte `json:"update"`
	ClientID string `json:"clientId"`
}

// RelayedUpdatePayload is a content mutation relayed to the other members.
type RelayedUpdatePayload struct {
	Update      []byte `json:"update"`
	ClientID    string `json:"clientId"`
	LamportTime int64  `json:"lamportTime"`
	Timestamp   int64  `json:"timestamp"`
}

// CursorPayload is a client caret report.
type CursorPayload struct {
	Position  int     `json:"position"`
	Selection *[2]int `json:"selection,omitempty"`
	ClientID  string  `json:"clientId"`
}

// RelayedCursorPayload is a caret report relayed to the other members.
type RelayedCursorPayload struct {
	UserID    string  `json:"userId"`
	ClientID  string  `json:"clientId"`
	Position  int     `json:"position"`
	Selection *[2]int `json:"selection,omitempty"`
	Color     string  `json:"color"`
	Name      string  `json:"name"`
}

// CountsPayload announces refreshed document counts.
type CountsPayload struct {
	DocumentID     string `json:"documentId"`
	WordCount      int    `json:"wordCount"`
	CharacterCount int    `json:"characterCount"`
}

// SyncStep1Payload carries a client's state vector.
type SyncStep1Payload struct {
	StateVector []byte `json:"stateVector"`
	ClientID    string `json:"clientId"`
}

// SyncStep2Payload carries the items the client is missing.
type SyncStep2Payload struct {
	Update   []byte `json:"update"`
	ClientID string `json:"clientId"`
}

// ErrorPayload reports a failed request to the originating connection.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Message: messageOf(err), Code: CodeOf(err)}}
}
