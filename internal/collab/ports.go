package collab

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/crdt"
	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
)

// Store is the persistence surface the engine consumes. *documents.Store satisfies it.
type Store interface {
	GetDocument(ctx context.Context, documentID string) (documents.DocumentRecord, error)
	UpdateDocumentCounts(ctx context.Context, documentID, content, userID string, snapshotVersion int64) error
	UpdateDocumentSnapshot(ctx context.Context, documentID string, state []byte, version int64, content, userID string) error
	AddOperation(ctx context.Context, record documents.OperationRecord) error
	GetOperationsSince(ctx context.Context, documentID string, version int64) ([]documents.OperationRecord, error)
	CreateSession(ctx context.Context, record documents.SessionRecord) error
	UpdateSessionCursor(ctx context.Context, clientID string, cursor documents.Cursor, heartbeat time.Time) error
	TouchSession(ctx context.Context, clientID string, heartbeat time.Time) error
	DeleteSession(ctx context.Context, clientID string) error
	AddOfflineOperation(ctx context.Context, entry documents.OfflineEntry) error
	GetOfflineQueue(ctx context.Context, clientID, documentID string) ([]documents.OfflineEntry, error)
	ClearOfflineQueue(ctx context.Context, clientID, documentID string) error
}

// AccessChecker answers whether a non-owner may join a document.
type AccessChecker interface {
	HasAccess(ctx context.Context, documentID, userID string) (bool, error)
}

// Identity is a verified user.
type Identity struct {
	UserID      string
	DisplayName string
}

// Authenticator resolves a credential into a verified identity.
type Authenticator interface {
	ResolveIdentity(ctx context.Context, credential string) (Identity, error)
}

// DocumentFactory builds the mergeable document held by a room.
type DocumentFactory interface {
	New() crdt.Document
	FromText(content string) (crdt.Document, error)
}

// Sink delivers outbound events to one connection. Send must not block; it
// reports false when the event could not be queued.
type Sink interface {
	Send(event Event) bool
}
