package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidClientID indicates that a client identifier is empty or exceeds storage bounds.
	ErrInvalidClientID = errors.New("documents: invalid client id")
	// ErrDocumentNotFound indicates that no document exists for the identifier.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrStaleContent indicates that a newer snapshot already carries the document content.
	ErrStaleContent = errors.New("documents: content older than stored snapshot")
)

// NewDocumentID validates and normalizes a raw document identifier.
func NewDocumentID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return trimmed, nil
}

// NewClientID validates and normalizes a client-generated connection identifier.
func NewClientID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidClientID)
	}
	if len(trimmed) > 64 {
		return "", fmt.Errorf("%w: exceeds 64 characters", ErrInvalidClientID)
	}
	return trimmed, nil
}

// Document holds document metadata together with the embedded snapshot.
type Document struct {
	DocumentID      string    `gorm:"column:document_id;primaryKey;size:190;not null"`
	Name            string    `gorm:"column:name;size:255;not null"`
	OwnerID         string    `gorm:"column:owner_id;size:190;not null;index"`
	Content         string    `gorm:"column:content;type:text;not null;default:''"`
	SnapshotState   []byte    `gorm:"column:snapshot_state"`
	SnapshotVersion int64     `gorm:"column:snapshot_version;not null;default:0"`
	WordCount       int       `gorm:"column:word_count;not null;default:0"`
	CharacterCount  int       `gorm:"column:character_count;not null;default:0"`
	LastEditedBy    string    `gorm:"column:last_edited_by;size:190;not null;default:''"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Permission grants a non-owner access to a document.
type Permission struct {
	PermissionID int64     `gorm:"column:permission_id;primaryKey;autoIncrement"`
	DocumentID   string    `gorm:"column:document_id;size:190;not null;uniqueIndex:idx_permissions_document_user,priority:1"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_permissions_document_user,priority:2"`
	Role         string    `gorm:"column:role;size:16;not null"`
	GrantedBy    string    `gorm:"column:granted_by;size:190;not null;default:''"`
	GrantedAt    time.Time `gorm:"column:granted_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Permission) TableName() string {
	return "document_permissions"
}

// VectorClock maps client identifiers to the number of updates each contributed.
type VectorClock map[string]int64

// Clone returns an independent copy of the clock.
func (clock VectorClock) Clone() VectorClock {
	copied := make(VectorClock, len(clock))
	for clientID, counter := range clock {
		copied[clientID] = counter
	}
	return copied
}

// Operation is one append-only row of the operation log.
type Operation struct {
	OperationID int64                           `gorm:"column:operation_id;primaryKey;autoIncrement"`
	DocumentID  string                          `gorm:"column:document_id;size:190;not null;index:idx_operations_document_version,priority:1"`
	ClientID    string                          `gorm:"column:client_id;size:64;not null"`
	UserID      string                          `gorm:"column:user_id;size:190;not null"`
	UpdateData  []byte                          `gorm:"column:update_data;not null"`
	UpdateHash  string                          `gorm:"column:update_hash;size:64;not null;index"`
	LamportTime int64                           `gorm:"column:lamport_time;not null"`
	VectorClock datatypes.JSONType[VectorClock] `gorm:"column:vector_clock;not null"`
	Version     int64                           `gorm:"column:version;not null;index:idx_operations_document_version,priority:2"`
	CreatedAt   time.Time                       `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Operation) TableName() string {
	return "document_operations"
}

// LiveSession is the liveness row of one connected client.
type LiveSession struct {
	SessionID      string    `gorm:"column:session_id;primaryKey;size:64;not null"`
	DocumentID     string    `gorm:"column:document_id;size:190;not null;index"`
	UserID         string    `gorm:"column:user_id;size:190;not null"`
	ClientID       string    `gorm:"column:client_id;size:64;not null;uniqueIndex"`
	CursorPosition int       `gorm:"column:cursor_position;not null;default:0"`
	SelectionStart *int      `gorm:"column:selection_start"`
	SelectionEnd   *int      `gorm:"column:selection_end"`
	UserColor      string    `gorm:"column:user_color;size:7"`
	JoinedAt       time.Time `gorm:"column:joined_at;not null"`
	LastHeartbeat  time.Time `gorm:"column:last_heartbeat;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LiveSession) TableName() string {
	return "document_sessions"
}

// OfflineOperation is an update a client produced while disconnected.
type OfflineOperation struct {
	EntryID        int64     `gorm:"column:entry_id;primaryKey;autoIncrement"`
	ClientID       string    `gorm:"column:client_id;size:64;not null;index:idx_offline_client_document,priority:1"`
	DocumentID     string    `gorm:"column:document_id;size:190;not null;index:idx_offline_client_document,priority:2"`
	UpdateData     []byte    `gorm:"column:update_data;not null"`
	SequenceNumber int64     `gorm:"column:sequence_number;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (OfflineOperation) TableName() string {
	return "offline_queue"
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Document{}, &Permission{}, &Operation{}, &LiveSession{}, &OfflineOperation{}}
}

// DocumentRecord is the decoded view of a document row.
type DocumentRecord struct {
	DocumentID      string
	Name            string
	OwnerID         string
	Content         string
	SnapshotState   []byte
	SnapshotVersion int64
	WordCount       int
	CharacterCount  int
	LastEditedBy    string
}

// OperationRecord is the input and output shape of the operation log.
type OperationRecord struct {
	DocumentID  string
	ClientID    string
	UserID      string
	Update      []byte
	LamportTime int64
	VectorClock VectorClock
	Version     int64
	CreatedAt   time.Time
}

// SessionRecord describes a liveness row to create.
type SessionRecord struct {
	DocumentID string
	UserID     string
	ClientID   string
	Color      string
	JoinedAt   time.Time
}

// Cursor is a client's caret position and optional selection range.
type Cursor struct {
	Position  int
	Selection *[2]int
}

// OfflineEntry is the decoded view of an offline queue row.
type OfflineEntry struct {
	ClientID       string
	DocumentID     string
	Update         []byte
	SequenceNumber int64
	CreatedAt      time.Time
}
