package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
)

// ConnectionState is a step of the per-connection protocol.
type ConnectionState int

// Connection states in protocol order.
const (
	StateConnecting ConnectionState = iota
	StateAuthenticating
	StateAccessCheck
	StateSyncing
	StateJoined
	StateLeft
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAccessCheck:
		return "access_check"
	case StateSyncing:
		return "syncing"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Connection drives one client through the join protocol and dispatches its
// messages once joined. Messages from one connection are handled one at a time.
type Connection struct {
	engine              *Engine
	sink                Sink
	transportCredential string
	logger              *zap.Logger

	mu      sync.Mutex
	state   ConnectionState
	room    *Room
	session *Session
}

// State returns the current protocol state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the joined session, or nil.
func (c *Connection) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Connection) setState(state ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Connection) joined() (*Room, *Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined {
		return nil, nil, false
	}
	return c.room, c.session, true
}

// HandleMessage dispatches one inbound frame. Failures are reported to the
// connection as an error event and returned.
func (c *Connection) HandleMessage(ctx context.Context, message Message) error {
	var err error
	switch message.Type {
	case EventJoinRoom:
		var payload JoinRoomPayload
		if err = decodePayload(message.Payload, &payload); err == nil {
			err = c.Join(ctx, payload)
		}
	case EventUpdate:
		var payload UpdatePayload
		if err = decodePayload(message.Payload, &payload); err == nil {
			err = c.Update(ctx, payload)
		}
	case EventCursorUpdate:
		var payload CursorPayload
		if err = decodePayload(message.Payload, &payload); err == nil {
			err = c.CursorUpdate(payload)
		}
	case EventSyncStep1:
		var payload SyncStep1Payload
		if err = decodePayload(message.Payload, &payload); err == nil {
			err = c.SyncStep1(payload)
		}
	case EventPing:
		c.Ping()
		return nil
	case EventLeave:
		c.Leave(ctx)
		return nil
	default:
		err = newError(CodeInvalidMessage, "Unknown event type", errors.New(message.Type))
	}
	if err != nil {
		c.reportError(err)
	}
	return err
}

func decodePayload(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return newError(CodeInvalidMessage, "Missing payload", nil)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return newError(CodeInvalidMessage, "Malformed payload", err)
	}
	return nil
}

// RejectFrame reports an inbound frame the transport could not decode.
func (c *Connection) RejectFrame(cause error) {
	c.reportError(newError(CodeInvalidMessage, "Malformed message", cause))
}

func (c *Connection) reportError(err error) {
	c.logger.Debug("request failed", zap.String("code", string(CodeOf(err))), zap.Error(err))
	c.sink.Send(errorEvent(err))
}

// Join runs Connecting -> Authenticating -> AccessCheck -> Syncing -> Joined.
// A failed join returns the connection to Connecting so it may try again.
func (c *Connection) Join(ctx context.Context, payload JoinRoomPayload) error {
	c.mu.Lock()
	if c.state != StateConnecting {
		state := c.state
		c.mu.Unlock()
		return newError(CodeInvalidMessage, "Join not allowed in state "+state.String(), nil)
	}
	c.state = StateAuthenticating
	c.mu.Unlock()

	room, session, err := c.join(ctx, payload)
	if err != nil {
		c.setState(StateConnecting)
		return err
	}
	c.mu.Lock()
	c.room = room
	c.session = session
	c.state = StateJoined
	c.mu.Unlock()
	return nil
}

func (c *Connection) join(ctx context.Context, payload JoinRoomPayload) (*Room, *Session, error) {
	documentID, err := documents.NewDocumentID(payload.DocumentID)
	if err != nil {
		return nil, nil, newError(CodeInvalidMessage, "Invalid document id", err)
	}
	clientID, err := documents.NewClientID(payload.ClientID)
	if err != nil {
		return nil, nil, newError(CodeInvalidMessage, "Invalid client id", err)
	}
	request := JoinRequest{
		DocumentID: documentID,
		ClientID:   clientID,
		Credential: resolveCredential(c.transportCredential, payload.Token),
	}

	coordinator := c.engine.joins
	identity, err := coordinator.authenticate(ctx, request.Credential)
	if err != nil {
		return nil, nil, err
	}
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		c.setState(StateAccessCheck)
		room, err := coordinator.checkAccess(ctx, request.DocumentID, identity)
		if err != nil {
			return nil, nil, err
		}
		c.setState(StateSyncing)
		session, err := coordinator.sync(ctx, room, identity, request, c.sink)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			c.engine.registry.EvictIfEmpty(room.documentID)
			return nil, nil, err
		}
		return room, session, nil
	}
	return nil, nil, newError(CodeServerError, "Internal server error", ErrRoomClosed)
}

// Update relays a content update from the joined session.
func (c *Connection) Update(ctx context.Context, payload UpdatePayload) error {
	room, session, ok := c.joined()
	if !ok {
		return newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	if len(payload.Update) == 0 {
		return newError(CodeInvalidMessage, "Missing update", nil)
	}
	return c.engine.relay.Apply(ctx, room, session, payload.Update)
}

// CursorUpdate relays the session's cursor to the other members.
func (c *Connection) CursorUpdate(payload CursorPayload) error {
	room, session, ok := c.joined()
	if !ok {
		return newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	return c.engine.presence.CursorUpdate(room, session, documents.Cursor{
		Position:  payload.Position,
		Selection: payload.Selection,
	})
}

// SyncStep1 answers a state vector with the missing part of the document.
func (c *Connection) SyncStep1(payload SyncStep1Payload) error {
	room, session, ok := c.joined()
	if !ok {
		return newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	diff, err := c.engine.relay.SyncStep2(room, session, payload.StateVector)
	if err != nil {
		return err
	}
	c.sink.Send(Event{Type: EventSyncStep2, Payload: SyncStep2Payload{Update: diff, ClientID: session.ClientID}})
	return nil
}

// Ping refreshes liveness when joined and always answers with pong.
func (c *Connection) Ping() {
	if room, session, ok := c.joined(); ok {
		if err := c.engine.presence.Heartbeat(room, session); err != nil {
			c.logger.Debug("heartbeat ignored", zap.Error(err))
		}
	}
	c.sink.Send(Event{Type: EventPong})
}

// Leave moves the connection to Left and tears down its session. It is safe
// to call more than once.
func (c *Connection) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateLeft {
		c.mu.Unlock()
		return
	}
	room, session := c.room, c.session
	c.state = StateLeft
	c.room = nil
	c.session = nil
	c.mu.Unlock()

	if room != nil && session != nil {
		c.engine.joins.Leave(ctx, room, session)
	}
}
