package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillDocumentCounts = "2026-09-01_backfill_document_counts"
	backfillBatchSize               = 100
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillDocumentCounts, apply: backfillDocumentCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillDocumentCounts recomputes counts for documents imported with
// content but without word or character counts.
func backfillDocumentCounts(db *gorm.DB) error {
	var pending []documents.Document
	return db.Model(&documents.Document{}).
		Select("document_id", "content").
		Where("content <> '' AND word_count = 0 AND character_count = 0").
		FindInBatches(&pending, backfillBatchSize, func(tx *gorm.DB, _ int) error {
			for _, document := range pending {
				err := tx.Model(&documents.Document{}).
					Where("document_id = ?", document.DocumentID).
					UpdateColumns(map[string]any{
						"word_count":      documents.CountWords(document.Content),
						"character_count": documents.CountCharacters(document.Content),
					}).Error
				if err != nil {
					return err
				}
			}
			return nil
		}).Error
}
