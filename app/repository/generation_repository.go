package repository

import (
	"gorm.io/gorm"

	"github.com/sheetgenius/sheetgenius/app/models"
)

// generationRepository implements the GenerationRepository interface
type generationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository creates a new generation repository instance
func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

// Create records a formula generation
func (r *generationRepository) Create(gen *models.FormulaGeneration) error {
	return r.db.Create(gen).Error
}

// GetByUserID returns a page of the user's generations, newest first
func (r *generationRepository) GetByUserID(userID uint, offset, limit int) ([]models.FormulaGeneration, error) {
	var gens []models.FormulaGeneration
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&gens).Error
	return gens, err
}

// CountByUserID returns how many generations the user has recorded
func (r *generationRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.FormulaGeneration{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
