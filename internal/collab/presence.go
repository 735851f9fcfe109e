package collab

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
)

var presencePalette = []string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#FFA07A",
	"#98D8C8",
	"#F7DC6F",
	"#BB8FCE",
	"#85C1E2",
}

// PresenceBroadcaster relays cursors and membership changes. It never touches
// document state.
type PresenceBroadcaster struct {
	store Store
	clock func() time.Time
	next  atomic.Uint64
}

// nextColor hands out palette colours round-robin across all rooms.
func (p *PresenceBroadcaster) nextColor() string {
	index := p.next.Add(1) - 1
	return presencePalette[index%uint64(len(presencePalette))]
}

// CursorUpdate records the sender's cursor on its liveness row and relays it to
// the other members. Lost cursor writes are not retried.
func (p *PresenceBroadcaster) CursorUpdate(room *Room, session *Session, cursor documents.Cursor) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.isMemberLocked(session) {
		return newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	now := p.clock()
	session.LastHeartbeat = now
	store := p.store
	clientID := session.ClientID
	room.worker.enqueue(persistTask{
		operation: "collab.cursor_update",
		run: func(ctx context.Context) error {
			return store.UpdateSessionCursor(ctx, clientID, cursor, now)
		},
	})
	room.broadcastLocked(Event{Type: EventCursorUpdate, Payload: RelayedCursorPayload{
		UserID:    session.UserID,
		ClientID:  session.ClientID,
		Position:  cursor.Position,
		Selection: cursor.Selection,
		Color:     session.Color,
		Name:      session.DisplayName,
	}}, session.ClientID)
	return nil
}

// Heartbeat refreshes the session's liveness without broadcasting.
func (p *PresenceBroadcaster) Heartbeat(room *Room, session *Session) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.isMemberLocked(session) {
		return newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	now := p.clock()
	session.LastHeartbeat = now
	store := p.store
	clientID := session.ClientID
	room.worker.enqueue(persistTask{
		operation: "collab.heartbeat",
		run: func(ctx context.Context) error {
			return store.TouchSession(ctx, clientID, now)
		},
	})
	return nil
}

func (p *PresenceBroadcaster) announceJoinLocked(room *Room, session *Session) {
	room.broadcastLocked(Event{Type: EventUserJoined, Payload: session.presence()}, session.ClientID)
}

func (p *PresenceBroadcaster) announceLeaveLocked(room *Room, session *Session) {
	room.broadcastLocked(Event{Type: EventUserLeft, Payload: UserPresence{
		UserID:   session.UserID,
		ClientID: session.ClientID,
	}}, session.ClientID)
}
