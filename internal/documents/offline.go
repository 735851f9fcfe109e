package documents

import (
	"context"

	"go.uber.org/zap"
)

const (
	opAddOfflineOperation = "documents.add_offline_operation"
	opGetOfflineQueue     = "documents.get_offline_queue"
	opClearOfflineQueue   = "documents.clear_offline_queue"
)

// AddOfflineOperation queues an update produced by a disconnected client.
func (s *Store) AddOfflineOperation(ctx context.Context, entry OfflineEntry) error {
	model := OfflineOperation{
		ClientID:       entry.ClientID,
		DocumentID:     entry.DocumentID,
		UpdateData:     entry.Update,
		SequenceNumber: entry.SequenceNumber,
	}
	if err := s.withContext(ctx).Create(&model).Error; err != nil {
		return s.fail(opAddOfflineOperation, reasonInsertFailed, err,
			zap.String(fieldClientID, entry.ClientID),
			zap.String(fieldDocumentID, entry.DocumentID))
	}
	return nil
}

// GetOfflineQueue returns the queued updates of a client for a document in sequence order.
func (s *Store) GetOfflineQueue(ctx context.Context, clientID, documentID string) ([]OfflineEntry, error) {
	var models []OfflineOperation
	if err := s.withContext(ctx).
		Where(queryClientDocument, clientID, documentID).
		Order(orderSequenceAsc).
		Find(&models).Error; err != nil {
		return nil, s.fail(opGetOfflineQueue, reasonQueryFailed, err,
			zap.String(fieldClientID, clientID),
			zap.String(fieldDocumentID, documentID))
	}
	entries := make([]OfflineEntry, 0, len(models))
	for _, model := range models {
		entries = append(entries, OfflineEntry{
			ClientID:       model.ClientID,
			DocumentID:     model.DocumentID,
			Update:         model.UpdateData,
			SequenceNumber: model.SequenceNumber,
			CreatedAt:      model.CreatedAt,
		})
	}
	return entries, nil
}

// ClearOfflineQueue deletes every queued update of a client for a document.
func (s *Store) ClearOfflineQueue(ctx context.Context, clientID, documentID string) error {
	if err := s.withContext(ctx).
		Where(queryClientDocument, clientID, documentID).
		Delete(&OfflineOperation{}).Error; err != nil {
		return s.fail(opClearOfflineQueue, reasonDeleteFailed, err,
			zap.String(fieldClientID, clientID),
			zap.String(fieldDocumentID, documentID))
	}
	return nil
}
