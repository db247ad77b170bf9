package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// viewRow marks a view as saved, so a view saved with zero patches is told
// apart from one that was never saved.
type viewRow struct {
	ViewID        string `gorm:"primaryKey"`
	SchemaVersion int    `gorm:"not null"`
	UpdatedAt     int64  `gorm:"autoUpdateTime"`
}

func (viewRow) TableName() string { return "patch_views" }

// patchRow is one persisted patch.
type patchRow struct {
	ID      string `gorm:"primaryKey"`
	ViewID  string `gorm:"not null;index"`
	Address int64  `gorm:"not null"` // bit pattern of the uint64 address
	Length  int    `gorm:"not null"`
	Tokens  string `gorm:"type:text"` // JSON []TokenRecord
}

func (patchRow) TableName() string { return "patches" }

// BeforeCreate hook to generate the row id
func (p *patchRow) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// SQLitePersister stores the patches of every view in one SQLite database.
type SQLitePersister struct {
	db *gorm.DB
}

// NewSQLitePersister opens (creating if needed) the database at path.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermission); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open patch database: %w", err)
	}

	if err := db.AutoMigrate(&viewRow{}, &patchRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate patch database: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

// LoadPatches returns the records saved for view, ordered by address.
// Returns ErrRecordNotFound if view was never saved.
func (s *SQLitePersister) LoadPatches(view ViewID) ([]Record, error) {
	var vr viewRow
	if err := s.db.Where("view_id = ?", string(view)).First(&vr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to query view: %w", err)
	}
	if vr.SchemaVersion != CurrentSchemaVersion {
		return nil, &SchemaVersionMismatchError{Expected: CurrentSchemaVersion, Actual: vr.SchemaVersion}
	}

	var rows []patchRow
	if err := s.db.Where("view_id = ?", string(view)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query patches: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		var tokens []TokenRecord
		if err := json.Unmarshal([]byte(row.Tokens), &tokens); err != nil {
			return nil, &RecordCorruptedError{Path: fmt.Sprintf("%s@%#x", view, uint64(row.Address)), Cause: err}
		}
		records = append(records, Record{
			Address: uint64(row.Address),
			Length:  row.Length,
			Tokens:  tokens,
		})
	}
	sortRecords(records)
	return records, nil
}

// SavePatches replaces everything saved for view in a single transaction.
func (s *SQLitePersister) SavePatches(view ViewID, records []Record) error {
	rows := make([]patchRow, 0, len(records))
	for _, r := range records {
		tokens, err := json.Marshal(r.Tokens)
		if err != nil {
			return fmt.Errorf("failed to marshal tokens at %#x: %w", r.Address, err)
		}
		rows = append(rows, patchRow{
			ViewID:  string(view),
			Address: int64(r.Address), //nolint:gosec // stored as a bit pattern
			Length:  r.Length,
			Tokens:  string(tokens),
		})
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("view_id = ?", string(view)).Delete(&patchRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear patches: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to insert patches: %w", err)
			}
		}
		vr := viewRow{ViewID: string(view), SchemaVersion: CurrentSchemaVersion, UpdatedAt: time.Now().Unix()}
		if err := tx.Save(&vr).Error; err != nil {
			return fmt.Errorf("failed to mark view saved: %w", err)
		}
		return nil
	})
}

// Close releases the database handle.
func (s *SQLitePersister) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
