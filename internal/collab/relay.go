package collab

import (
	"context"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
)

// UpdateRelay applies content updates to a room, records them and fans them out.
type UpdateRelay struct {
	store     Store
	scheduler *Scheduler
}

// Apply merges update from session into room. The room is never rolled back:
// when the operation row cannot be written the update is still relayed and
// buffered for the next snapshot, and the sender receives UPDATE_FAILED.
func (u *UpdateRelay) Apply(ctx context.Context, room *Room, session *Session, update []byte) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.isMemberLocked(session) {
		return newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	if err := room.document.ApplyUpdate(update); err != nil {
		room.logger.Warn("update rejected",
			zap.String("client_id", session.ClientID),
			zap.Error(err))
		return newError(CodeUpdateFailed, "Failed to process update", err)
	}
	return u.commitLocked(ctx, room, session, update)
}

// commitLocked records an update that has already been merged into the room's
// document: clocks, buffer, operation log, deferred persistence, relay and the
// snapshot threshold, in that order.
func (u *UpdateRelay) commitLocked(ctx context.Context, room *Room, session *Session, update []byte) error {
	now := u.scheduler.clock()
	room.lamportTime++
	room.vectorClock[session.ClientID]++
	room.buffer = append(room.buffer, bufferedOperation{update: update, clientID: session.ClientID, timestamp: now})
	room.lastEditor = session.UserID

	var failure error
	err := u.store.AddOperation(ctx, documents.OperationRecord{
		DocumentID:  room.documentID,
		ClientID:    session.ClientID,
		UserID:      session.UserID,
		Update:      update,
		LamportTime: room.lamportTime,
		VectorClock: room.vectorClock.Clone(),
		Version:     room.lastSnapshot.version + int64(len(room.buffer)),
		CreatedAt:   now,
	})
	if err != nil {
		room.logger.Error("operation not logged",
			zap.String("client_id", session.ClientID),
			zap.Int64("lamport_time", room.lamportTime),
			zap.Error(err))
		failure = newError(CodeUpdateFailed, "Failed to persist update", err)
	}

	u.scheduler.scheduleCountsLocked(room, session.UserID)
	if u.scheduler.contentSaveDueLocked(room) {
		u.scheduler.saveContentLocked(room, session.UserID)
	}

	room.broadcastLocked(Event{Type: EventUpdate, Payload: RelayedUpdatePayload{
		Update:      update,
		ClientID:    session.ClientID,
		LamportTime: room.lamportTime,
		Timestamp:   now.UnixMilli(),
	}}, session.ClientID)

	if u.scheduler.snapshotDueLocked(room) {
		// Failure keeps the buffer; the next update past the threshold retries.
		_ = u.scheduler.flushSnapshotLocked(ctx, room, session.UserID)
	}
	return failure
}

// SyncStep2 encodes the part of room's document that the holder of stateVector lacks.
func (u *UpdateRelay) SyncStep2(room *Room, session *Session, stateVector []byte) ([]byte, error) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.isMemberLocked(session) {
		return nil, newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	diff, err := room.document.EncodeDiffSince(stateVector)
	if err != nil {
		return nil, newError(CodeInvalidMessage, "Invalid state vector", err)
	}
	return diff, nil
}
