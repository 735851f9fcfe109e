package collab

import (
	"context"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
)

// RecoveryResult counts how a client's offline queue was replayed.
type RecoveryResult struct {
	Recovered int
	Conflicts int
}

// OfflineRecovery queues updates written while a client was disconnected and
// replays them when the client joins again.
type OfflineRecovery struct {
	store Store
	relay *UpdateRelay
}

// Queue stores an update for clientID to replay on its next join of documentID.
func (o *OfflineRecovery) Queue(ctx context.Context, clientID, documentID string, update []byte, sequenceNumber int64) error {
	return o.store.AddOfflineOperation(ctx, documents.OfflineEntry{
		ClientID:       clientID,
		DocumentID:     documentID,
		Update:         update,
		SequenceNumber: sequenceNumber,
	})
}

// Recover replays the offline queue of session's client into room.
func (o *OfflineRecovery) Recover(ctx context.Context, room *Room, session *Session) (RecoveryResult, error) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.isMemberLocked(session) {
		return RecoveryResult{}, newError(CodeNotInRoom, "Not in room", errNotJoined)
	}
	return o.recoverLocked(ctx, room, session)
}

// recoverLocked applies each queued entry in sequence order. Entries that fail
// to merge count as conflicts and do not stop the pass. The queue is cleared
// afterwards whatever the outcome.
func (o *OfflineRecovery) recoverLocked(ctx context.Context, room *Room, session *Session) (RecoveryResult, error) {
	entries, err := o.store.GetOfflineQueue(ctx, session.ClientID, room.documentID)
	if err != nil {
		return RecoveryResult{}, newError(CodeServerError, "Offline recovery failed", err)
	}
	if len(entries) == 0 {
		return RecoveryResult{}, nil
	}
	var result RecoveryResult
	for _, entry := range entries {
		if err := room.document.ApplyUpdate(entry.Update); err != nil {
			room.logger.Warn("offline operation conflicted",
				zap.String("client_id", session.ClientID),
				zap.Int64("sequence_number", entry.SequenceNumber),
				zap.Error(err))
			result.Conflicts++
			continue
		}
		result.Recovered++
		// Log failures are reported by commitLocked and do not count as conflicts.
		_ = o.relay.commitLocked(ctx, room, session, entry.Update)
	}
	if err := o.store.ClearOfflineQueue(ctx, session.ClientID, room.documentID); err != nil {
		room.logger.Error("offline queue not cleared",
			zap.String("client_id", session.ClientID),
			zap.Error(err))
	}
	room.logger.Info("offline operations replayed",
		zap.String("client_id", session.ClientID),
		zap.Int("recovered", result.Recovered),
		zap.Int("conflicts", result.Conflicts))
	return result, nil
}
