package collab

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
)

const maxJoinAttempts = 3

// JoinRequest is a validated join_room message.
type JoinRequest struct {
	DocumentID string
	ClientID   string
	Credential string
}

// JoinCoordinator runs each transition of the join protocol and the teardown on leave.
type JoinCoordinator struct {
	authenticator Authenticator
	access        AccessChecker
	registry      *Registry
	store         Store
	scheduler     *Scheduler
	presence      *PresenceBroadcaster
	offline       *OfflineRecovery
	clock         func() time.Time
}

// resolveCredential picks the transport credential over the payload one.
func resolveCredential(transportCredential, payloadCredential string) string {
	if transportCredential != "" {
		return transportCredential
	}
	return payloadCredential
}

// authenticate handles Authenticating -> AccessCheck.
func (j *JoinCoordinator) authenticate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, newError(CodeAuthFailed, "Invalid token", ErrAuthFailed)
	}
	identity, err := j.authenticator.ResolveIdentity(ctx, credential)
	if err != nil {
		return Identity{}, newError(CodeAuthFailed, "Invalid token", errors.Join(ErrAuthFailed, err))
	}
	if identity.UserID == "" {
		return Identity{}, newError(CodeAuthFailed, "Invalid token", ErrAuthFailed)
	}
	return identity, nil
}

// checkAccess handles AccessCheck -> Syncing. The owner is always admitted. A
// refused join does not leave a memberless room behind.
func (j *JoinCoordinator) checkAccess(ctx context.Context, documentID string, identity Identity) (*Room, error) {
	room, err := j.registry.GetOrCreate(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if room.ownerID == identity.UserID {
		return room, nil
	}
	allowed, err := j.access.HasAccess(ctx, documentID, identity.UserID)
	if err != nil {
		j.registry.EvictIfEmpty(documentID)
		return nil, newError(CodeServerError, "Internal server error", err)
	}
	if !allowed {
		j.registry.EvictIfEmpty(documentID)
		return nil, newError(CodeAccessDenied, "Access denied", nil)
	}
	return room, nil
}

// sync handles Syncing -> Joined: it registers the session, records its
// liveness row, replays the client's offline queue and sends room_joined
// before any other member can relay to the new session.
func (j *JoinCoordinator) sync(ctx context.Context, room *Room, identity Identity, request JoinRequest, sink Sink) (*Session, error) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return nil, ErrRoomClosed
	}

	now := j.clock()
	room.nextSequence++
	session := &Session{
		UserID:        identity.UserID,
		DisplayName:   identity.DisplayName,
		ClientID:      request.ClientID,
		DocumentID:    room.documentID,
		Color:         j.presence.nextColor(),
		JoinedAt:      now,
		LastHeartbeat: now,
		sequence:      room.nextSequence,
		sink:          sink,
	}
	previous := room.sessions[request.ClientID]
	room.sessions[request.ClientID] = session

	err := j.store.CreateSession(ctx, documents.SessionRecord{
		DocumentID: room.documentID,
		UserID:     identity.UserID,
		ClientID:   request.ClientID,
		Color:      session.Color,
		JoinedAt:   now,
	})
	if err != nil {
		j.rollbackLocked(room, request.ClientID, previous)
		return nil, newError(CodeServerError, "Internal server error", err)
	}

	recovery, err := j.offline.recoverLocked(ctx, room, session)
	if err != nil {
		room.logger.Error("offline recovery skipped", zap.String("client_id", request.ClientID), zap.Error(err))
	}

	state, err := room.document.EncodeFullState()
	if err != nil {
		j.rollbackLocked(room, request.ClientID, previous)
		return nil, newError(CodeServerError, "Internal server error", err)
	}

	sink.Send(Event{Type: EventRoomJoined, Payload: RoomJoinedPayload{
		DocumentID:  room.documentID,
		ClientID:    request.ClientID,
		Users:       room.membersLocked(),
		DocState:    state,
		LamportTime: room.lamportTime,
		Recovered:   recovery.Recovered,
		Conflicts:   recovery.Conflicts,
	}})
	j.presence.announceJoinLocked(room, session)
	room.logger.Info("user joined",
		zap.String("user_id", identity.UserID),
		zap.String("client_id", request.ClientID),
		zap.Int("members", len(room.sessions)))
	return session, nil
}

func (j *JoinCoordinator) rollbackLocked(room *Room, clientID string, previous *Session) {
	if previous != nil {
		room.sessions[clientID] = previous
		return
	}
	delete(room.sessions, clientID)
}

// Leave removes session from room. The last member out flushes a final snapshot
// and the room is evicted when the flush succeeded.
func (j *JoinCoordinator) Leave(ctx context.Context, room *Room, session *Session) {
	room.mu.Lock()
	removed := room.isMemberLocked(session)
	if removed {
		delete(room.sessions, session.ClientID)
		j.presence.announceLeaveLocked(room, session)
	}
	empty := removed && len(room.sessions) == 0
	if empty {
		j.scheduler.cancelCountsLocked(room)
		if len(room.buffer) > 0 {
			if err := j.scheduler.flushSnapshotLocked(ctx, room, session.UserID); err != nil {
				j.saveContentFallbackLocked(ctx, room, session.UserID)
			}
		}
	}
	room.mu.Unlock()

	if !removed {
		return
	}
	if err := j.store.DeleteSession(ctx, session.ClientID); err != nil {
		room.logger.Error("liveness row not deleted", zap.String("client_id", session.ClientID), zap.Error(err))
	}
	room.logger.Info("user left",
		zap.String("user_id", session.UserID),
		zap.String("client_id", session.ClientID))
	if empty {
		j.registry.EvictIfEmpty(room.documentID)
	}
}

// saveContentFallbackLocked keeps the plain content current when the final
// snapshot could not be written.
func (j *JoinCoordinator) saveContentFallbackLocked(ctx context.Context, room *Room, userID string) {
	if err := j.store.UpdateDocumentCounts(ctx, room.documentID, room.document.Text(), userID, room.lastSnapshot.version); err != nil {
		room.logger.Error("content fallback failed", zap.Error(err))
	}
}
