package documents

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateDocument         = "documents.create_document"
	opGetDocument            = "documents.get_document"
	opGrantAccess            = "documents.grant_access"
	opHasAccess              = "documents.has_access"
	opUpdateDocumentCounts   = "documents.update_document_counts"
	opUpdateDocumentSnapshot = "documents.update_document_snapshot"
)

// Roles a permission row may carry.
const (
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// CreateDocument inserts a document owned by ownerID with optional initial content.
func (s *Store) CreateDocument(ctx context.Context, documentID, name, ownerID, content string) error {
	model := Document{
		DocumentID:     documentID,
		Name:           name,
		OwnerID:        ownerID,
		Content:        content,
		WordCount:      CountWords(content),
		CharacterCount: CountCharacters(content),
	}
	if err := s.withContext(ctx).Create(&model).Error; err != nil {
		return s.fail(opCreateDocument, reasonInsertFailed, err, zap.String(fieldDocumentID, documentID))
	}
	return nil
}

// GetDocument loads a document and decompresses its snapshot.
// It returns ErrDocumentNotFound when no row exists.
func (s *Store) GetDocument(ctx context.Context, documentID string) (DocumentRecord, error) {
	var model Document
	err := s.withContext(ctx).Where(queryDocumentID, documentID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentRecord{}, newServiceError(opGetDocument, reasonNotFound, ErrDocumentNotFound)
	}
	if err != nil {
		return DocumentRecord{}, s.fail(opGetDocument, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
	}
	state, err := decompressSnapshot(model.SnapshotState)
	if err != nil {
		return DocumentRecord{}, s.fail(opGetDocument, reasonDecodeFailed, err, zap.String(fieldDocumentID, documentID))
	}
	return DocumentRecord{
		DocumentID:      model.DocumentID,
		Name:            model.Name,
		OwnerID:         model.OwnerID,
		Content:         model.Content,
		SnapshotState:   state,
		SnapshotVersion: model.SnapshotVersion,
		WordCount:       model.WordCount,
		CharacterCount:  model.CharacterCount,
		LastEditedBy:    model.LastEditedBy,
	}, nil
}

// GrantAccess records that userID may join documentID.
func (s *Store) GrantAccess(ctx context.Context, documentID, userID, role, grantedBy string) error {
	model := Permission{
		DocumentID: documentID,
		UserID:     userID,
		Role:       role,
		GrantedBy:  grantedBy,
	}
	if err := s.withContext(ctx).Create(&model).Error; err != nil {
		return s.fail(opGrantAccess, reasonInsertFailed, err,
			zap.String(fieldDocumentID, documentID),
			zap.String(fieldUserID, userID))
	}
	return nil
}

// HasAccess reports whether a permission row exists for the pair.
func (s *Store) HasAccess(ctx context.Context, documentID, userID string) (bool, error) {
	var count int64
	if err := s.withContext(ctx).Model(&Permission{}).
		Where(queryDocumentUser, documentID, userID).
		Count(&count).Error; err != nil {
		return false, s.fail(opHasAccess, reasonQueryFailed, err,
			zap.String(fieldDocumentID, documentID),
			zap.String(fieldUserID, userID))
	}
	return count > 0, nil
}

// UpdateDocumentCounts stores the latest plain content and its counts.
// An empty userID leaves last_edited_by unchanged. The write applies only while
// the stored snapshot version is at most snapshotVersion; a newer snapshot
// already carries newer content and the call returns ErrStaleContent.
func (s *Store) UpdateDocumentCounts(ctx context.Context, documentID, content, userID string, snapshotVersion int64) error {
	updates := map[string]any{
		"content":         content,
		"word_count":      CountWords(content),
		"character_count": CountCharacters(content),
		"updated_at":      s.now(),
	}
	if userID != "" {
		updates["last_edited_by"] = userID
	}
	result := s.withContext(ctx).Model(&Document{}).
		Where(queryDocumentID, documentID).
		Where(querySnapshotAtMost, snapshotVersion).
		Updates(updates)
	if result.Error != nil {
		return s.fail(opUpdateDocumentCounts, reasonUpdateFailed, result.Error, zap.String(fieldDocumentID, documentID))
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var existing int64
	if err := s.withContext(ctx).Model(&Document{}).Where(queryDocumentID, documentID).Count(&existing).Error; err != nil {
		return s.fail(opUpdateDocumentCounts, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
	}
	if existing == 0 {
		return newServiceError(opUpdateDocumentCounts, reasonNotFound, ErrDocumentNotFound)
	}
	return newServiceError(opUpdateDocumentCounts, reasonStale, ErrStaleContent)
}

// UpdateDocumentSnapshot writes the snapshot, its version, the content and its
// counts in a single statement.
func (s *Store) UpdateDocumentSnapshot(ctx context.Context, documentID string, state []byte, version int64, content, userID string) error {
	compressed, err := compressSnapshot(state)
	if err != nil {
		return s.fail(opUpdateDocumentSnapshot, reasonEncodeFailed, err, zap.String(fieldDocumentID, documentID))
	}
	updates := map[string]any{
		"snapshot_state":   compressed,
		"snapshot_version": version,
		"content":          content,
		"word_count":       CountWords(content),
		"character_count":  CountCharacters(content),
		"updated_at":       s.now(),
	}
	if userID != "" {
		updates["last_edited_by"] = userID
	}
	return s.updateDocument(ctx, opUpdateDocumentSnapshot, documentID, updates)
}

func (s *Store) updateDocument(ctx context.Context, operation, documentID string, updates map[string]any) error {
	result := s.withContext(ctx).Model(&Document{}).Where(queryDocumentID, documentID).Updates(updates)
	if result.Error != nil {
		return s.fail(operation, reasonUpdateFailed, result.Error, zap.String(fieldDocumentID, documentID))
	}
	if result.RowsAffected == 0 {
		return newServiceError(operation, reasonNotFound, ErrDocumentNotFound)
	}
	return nil
}
