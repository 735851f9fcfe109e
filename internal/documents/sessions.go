package documents

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	opCreateSession       = "documents.create_session"
	opUpdateSessionCursor = "documents.update_session_cursor"
	opTouchSession        = "documents.touch_session"
	opDeleteSession       = "documents.delete_session"
	opDeleteAllSessions   = "documents.delete_all_sessions"
)

// CreateSession inserts the liveness row for a joined client. A stale row for
// the same client id is replaced.
func (s *Store) CreateSession(ctx context.Context, record SessionRecord) error {
	sessionID, err := s.idProvider.NewID()
	if err != nil {
		return s.fail(opCreateSession, reasonIDFailed, err, zap.String(fieldClientID, record.ClientID))
	}
	joinedAt := record.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = s.now()
	}
	if err := s.withContext(ctx).Where(queryClientID, record.ClientID).Delete(&LiveSession{}).Error; err != nil {
		return s.fail(opCreateSession, reasonDeleteFailed, err, zap.String(fieldClientID, record.ClientID))
	}
	model := LiveSession{
		SessionID:     sessionID,
		DocumentID:    record.DocumentID,
		UserID:        record.UserID,
		ClientID:      record.ClientID,
		UserColor:     record.Color,
		JoinedAt:      joinedAt.UTC(),
		LastHeartbeat: joinedAt.UTC(),
	}
	if err := s.withContext(ctx).Create(&model).Error; err != nil {
		return s.fail(opCreateSession, reasonInsertFailed, err,
			zap.String(fieldDocumentID, record.DocumentID),
			zap.String(fieldClientID, record.ClientID))
	}
	return nil
}

// UpdateSessionCursor stores the latest cursor and selection and refreshes the heartbeat.
func (s *Store) UpdateSessionCursor(ctx context.Context, clientID string, cursor Cursor, heartbeat time.Time) error {
	updates := map[string]any{
		"cursor_position": cursor.Position,
		"selection_start": nil,
		"selection_end":   nil,
		"last_heartbeat":  heartbeat.UTC(),
	}
	if cursor.Selection != nil {
		updates["selection_start"] = cursor.Selection[0]
		updates["selection_end"] = cursor.Selection[1]
	}
	if err := s.withContext(ctx).Model(&LiveSession{}).Where(queryClientID, clientID).Updates(updates).Error; err != nil {
		return s.fail(opUpdateSessionCursor, reasonUpdateFailed, err, zap.String(fieldClientID, clientID))
	}
	return nil
}

// TouchSession refreshes only the heartbeat of a liveness row.
func (s *Store) TouchSession(ctx context.Context, clientID string, heartbeat time.Time) error {
	if err := s.withContext(ctx).Model(&LiveSession{}).
		Where(queryClientID, clientID).
		Update("last_heartbeat", heartbeat.UTC()).Error; err != nil {
		return s.fail(opTouchSession, reasonUpdateFailed, err, zap.String(fieldClientID, clientID))
	}
	return nil
}

// DeleteSession removes the liveness row of a client.
func (s *Store) DeleteSession(ctx context.Context, clientID string) error {
	if err := s.withContext(ctx).Where(queryClientID, clientID).Delete(&LiveSession{}).Error; err != nil {
		return s.fail(opDeleteSession, reasonDeleteFailed, err, zap.String(fieldClientID, clientID))
	}
	return nil
}

// DeleteAllSessions removes every liveness row and returns how many were removed.
// Rows left behind by a previous process describe connections that no longer exist.
func (s *Store) DeleteAllSessions(ctx context.Context) (int64, error) {
	result := s.withContext(ctx).Where("1 = 1").Delete(&LiveSession{})
	if result.Error != nil {
		return 0, s.fail(opDeleteAllSessions, reasonDeleteFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// ListSessions returns the liveness rows of a document.
func (s *Store) ListSessions(ctx context.Context, documentID string) ([]LiveSession, error) {
	var sessions []LiveSession
	if err := s.withContext(ctx).Where(queryDocumentID, documentID).Order("joined_at ASC").Find(&sessions).Error; err != nil {
		return nil, s.fail("documents.list_sessions", reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
	}
	return sessions, nil
}
