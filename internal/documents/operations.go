package documents

import (
	"context"
	"encoding/hex"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	opAddOperation       = "documents.add_operation"
	opGetOperationsSince = "documents.get_operations_since"
)

// AddOperation appends one row to the operation log.
func (s *Store) AddOperation(ctx context.Context, record OperationRecord) error {
	sum := blake3.Sum256(record.Update)
	model := Operation{
		DocumentID:  record.DocumentID,
		ClientID:    record.ClientID,
		UserID:      record.UserID,
		UpdateData:  record.Update,
		UpdateHash:  hex.EncodeToString(sum[:]),
		LamportTime: record.LamportTime,
		VectorClock: datatypes.NewJSONType(record.VectorClock.Clone()),
		Version:     record.Version,
	}
	if !record.CreatedAt.IsZero() {
		model.CreatedAt = record.CreatedAt.UTC()
	}
	if err := s.withContext(ctx).Create(&model).Error; err != nil {
		return s.fail(opAddOperation, reasonInsertFailed, err,
			zap.String(fieldDocumentID, record.DocumentID),
			zap.String(fieldClientID, record.ClientID))
	}
	return nil
}

// GetOperationsSince returns log rows with version greater than version,
// ordered by version and then by insertion.
func (s *Store) GetOperationsSince(ctx context.Context, documentID string, version int64) ([]OperationRecord, error) {
	var models []Operation
	if err := s.withContext(ctx).
		Where(queryDocumentVersion, documentID, version).
		Order(orderVersionAsc).
		Find(&models).Error; err != nil {
		return nil, s.fail(opGetOperationsSince, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
	}
	records := make([]OperationRecord, 0, len(models))
	for _, model := range models {
		records = append(records, OperationRecord{
			DocumentID:  model.DocumentID,
			ClientID:    model.ClientID,
			UserID:      model.UserID,
			Update:      model.UpdateData,
			LamportTime: model.LamportTime,
			VectorClock: model.VectorClock.Data(),
			Version:     model.Version,
			CreatedAt:   model.CreatedAt,
		})
	}
	return records, nil
}
