package repository

import (
	"errors"
	"time"

	"smart-doorbell-go/internal/core/models"

	"gorm.io/gorm"
)

// Repository is the persistence interface of captures and their deliveries
type Repository interface {
	// Capture methods
	GetCaptureByID(id uint) (*models.Capture, error)
	GetCaptureByFilename(filename string) (*models.Capture, error)
	GetCaptures(limit, offset int) ([]models.Capture, int64, error)
	GetCapturesBefore(t time.Time) ([]models.Capture, error)
	SaveCapture(capture *models.Capture) error
	DeleteCapture(id uint) error

	// Delivery methods
	SaveDelivery(delivery *models.Delivery) error
	GetDeliveriesByCaptureID(captureID uint) ([]models.Delivery, error)

	// Statistics
	GetStatistics(unknownLabel string) (models.Statistics, error)
}

// SQLiteRepository implements Repository with gorm on SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on an open connection
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetCaptureByID returns nil without error when the capture does not exist
func (r *SQLiteRepository) GetCaptureByID(id uint) (*models.Capture, error) {
	var capture models.Capture
	result := r.db.First(&capture, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &capture, nil
}

// GetCaptureByFilename returns nil without error when the capture does not exist
func (r *SQLiteRepository) GetCaptureByFilename(filename string) (*models.Capture, error) {
	var capture models.Capture
	result := r.db.Where("filename = ?", filename).First(&capture)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &capture, nil
}

// GetCaptures returns captures newest first together with the total count
func (r *SQLiteRepository) GetCaptures(limit, offset int) ([]models.Capture, int64, error) {
	var captures []models.Capture
	var total int64

	if err := r.db.Model(&models.Capture{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	result := r.db.Order("captured_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Preload("Deliveries").
		Find(&captures)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return captures, total, nil
}

// GetCapturesBefore returns every capture taken before t
func (r *SQLiteRepository) GetCapturesBefore(t time.Time) ([]models.Capture, error) {
	var captures []models.Capture
	if err := r.db.Where("captured_at < ?", t).Find(&captures).Error; err != nil {
		return nil, err
	}
	return captures, nil
}

// SaveCapture inserts or updates a capture
func (r *SQLiteRepository) SaveCapture(capture *models.Capture) error {
	return r.db.Save(capture).Error
}

// DeleteCapture removes a capture and its deliveries permanently
func (r *SQLiteRepository) DeleteCapture(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("capture_id = ?", id).Delete(&models.Delivery{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Capture{}, id).Error
	})
}

// SaveDelivery stores a notification outcome
func (r *SQLiteRepository) SaveDelivery(delivery *models.Delivery) error {
	return r.db.Save(delivery).Error
}

// GetDeliveriesByCaptureID returns the deliveries of a capture in insertion order
func (r *SQLiteRepository) GetDeliveriesByCaptureID(captureID uint) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	result := r.db.Where("capture_id = ?", captureID).Order("id ASC").Find(&deliveries)
	if result.Error != nil {
		return nil, result.Error
	}
	return deliveries, nil
}

// GetStatistics summarises the stored captures
func (r *SQLiteRepository) GetStatistics(unknownLabel string) (models.Statistics, error) {
	stats := models.Statistics{PerLabel: make(map[string]int64)}

	if err := r.db.Model(&models.Capture{}).Count(&stats.TotalCaptures).Error; err != nil {
		return stats, err
	}

	var rows []struct {
		Label string
		Count int64
	}
	if err := r.db.Model(&models.Capture{}).
		Select("label, COUNT(*) AS count").
		Group("label").
		Scan(&rows).Error; err != nil {
		return stats, err
	}
	for _, row := range rows {
		stats.PerLabel[row.Label] = row.Count
	}

	if err := r.db.Model(&models.Capture{}).Where("label = ?", unknownLabel).Count(&stats.UnknownCaptures).Error; err != nil {
		return stats, err
	}

	var latest models.Capture
	if err := r.db.Order("captured_at DESC").First(&latest).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	} else {
		stats.LatestCapture = &latest.CapturedAt
	}

	if err := r.db.Model(&models.Delivery{}).Where("success = ?", false).Count(&stats.FailedDelivery).Error; err != nil {
		return stats, err
	}

	return stats, nil
}
