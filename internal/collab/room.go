package collab

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/crdt"
	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
)

// Session is one joined connection's membership in a room.
type Session struct {
	UserID        string
	DisplayName   string
	ClientID      string
	DocumentID    string
	Color         string
	JoinedAt      time.Time
	LastHeartbeat time.Time

	sequence uint64
	sink     Sink
}

func (s *Session) presence() UserPresence {
	return UserPresence{UserID: s.UserID, ClientID: s.ClientID, Name: s.DisplayName, Color: s.Color}
}

type bufferedOperation struct {
	update    []byte
	clientID  string
	timestamp time.Time
}

type snapshotMark struct {
	version   int64
	timestamp time.Time
}

// Room is the in-memory state of one document under collaboration. Every field
// below mu is guarded by it.
type Room struct {
	documentID string
	ownerID    string
	worker     *persistWorker
	logger     *zap.Logger

	mu              sync.Mutex
	document        crdt.Document
	sessions        map[string]*Session
	nextSequence    uint64
	lamportTime     int64
	vectorClock     documents.VectorClock
	buffer          []bufferedOperation
	lastSnapshot    snapshotMark
	lastEditor      string
	countTimer      *time.Timer
	countGeneration uint64
	closed          bool
}

// DocumentID returns the identifier of the document the room serves.
func (r *Room) DocumentID() string {
	return r.documentID
}

// Text returns the current document text.
func (r *Room) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.document.Text()
}

// LamportTime returns the room-scoped logical clock.
func (r *Room) LamportTime() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lamportTime
}

// VectorClock returns a copy of the per-client update counters.
func (r *Room) VectorClock() documents.VectorClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vectorClock.Clone()
}

// BufferedOperations returns how many updates are waiting for the next snapshot.
func (r *Room) BufferedOperations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// SnapshotVersion returns the version of the last persisted snapshot.
func (r *Room) SnapshotVersion() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSnapshot.version
}

// Members returns the joined sessions in join order.
func (r *Room) Members() []UserPresence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []UserPresence {
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	slices.SortFunc(sessions, func(a, b *Session) int {
		return cmp.Compare(a.sequence, b.sequence)
	})
	members := make([]UserPresence, 0, len(sessions))
	for _, session := range sessions {
		members = append(members, session.presence())
	}
	return members
}

// isMemberLocked reports whether session is the one currently registered for its client id.
func (r *Room) isMemberLocked(session *Session) bool {
	if r.closed || session == nil {
		return false
	}
	return r.sessions[session.ClientID] == session
}

// broadcastLocked sends event to every member except the one with excludeClientID.
func (r *Room) broadcastLocked(event Event, excludeClientID string) {
	for clientID, session := range r.sessions {
		if clientID == excludeClientID {
			continue
		}
		if !session.sink.Send(event) {
			r.logger.Debug("event not delivered",
				zap.String("event", event.Type),
				zap.String("client_id", clientID))
		}
	}
}

type roomDependencies struct {
	store     Store
	factory   DocumentFactory
	clock     func() time.Time
	queueSize int
	logger    *zap.Logger
}

// hydrateRoom loads a document into a new room. The latest snapshot wins, with
// the operations logged after it replayed on top; without a snapshot the plain
// content seeds the document; without content the document starts empty.
func hydrateRoom(ctx context.Context, deps roomDependencies, documentID string) (*Room, error) {
	record, err := deps.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, documents.ErrDocumentNotFound) {
			return nil, newError(CodeNotFound, "Document not found", err)
		}
		return nil, newError(CodeServerError, "Internal server error", err)
	}
	logger := deps.logger.With(zap.String("document_id", documentID))

	document, err := restoreDocument(ctx, deps, logger, record)
	if err != nil {
		return nil, newError(CodeServerError, "Internal server error", err)
	}

	room := &Room{
		documentID:   documentID,
		ownerID:      record.OwnerID,
		worker:       newPersistWorker(deps.queueSize, logger),
		logger:       logger,
		document:     document,
		sessions:     make(map[string]*Session),
		vectorClock:  documents.VectorClock{},
		lastSnapshot: snapshotMark{version: record.SnapshotVersion, timestamp: deps.clock()},
	}

	if initial := document.Text(); initial != "" {
		store := deps.store
		baseVersion := record.SnapshotVersion
		room.worker.enqueue(persistTask{
			operation: "collab.initial_counts",
			run: func(ctx context.Context) error {
				return store.UpdateDocumentCounts(ctx, documentID, initial, "", baseVersion)
			},
		})
	}
	logger.Debug("room hydrated", zap.Int64("snapshot_version", record.SnapshotVersion))
	return room, nil
}

func restoreDocument(ctx context.Context, deps roomDependencies, logger *zap.Logger, record documents.DocumentRecord) (crdt.Document, error) {
	if len(record.SnapshotState) > 0 {
		document := deps.factory.New()
		err := document.ApplyUpdate(record.SnapshotState)
		if err == nil {
			replayOperations(ctx, deps.store, logger, document, record)
			return document, nil
		}
		logger.Error("snapshot could not be applied, falling back to content", zap.Error(err))
	}
	if record.Content != "" {
		return deps.factory.FromText(record.Content)
	}
	return deps.factory.New(), nil
}

func replayOperations(ctx context.Context, store Store, logger *zap.Logger, document crdt.Document, record documents.DocumentRecord) {
	operations, err := store.GetOperationsSince(ctx, record.DocumentID, record.SnapshotVersion)
	if err != nil {
		logger.Error("operation replay skipped", zap.Error(err))
		return
	}
	for _, operation := range operations {
		if err := document.ApplyUpdate(operation.Update); err != nil {
			logger.Warn("logged operation could not be replayed",
				zap.Int64("version", operation.Version),
				zap.String("client_id", operation.ClientID),
				zap.Error(err))
		}
	}
}
