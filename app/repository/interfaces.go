package repository

import (
	"gorm.io/gorm"

	"github.com/sheetgenius/sheetgenius/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserProfile, error)
	Update(user *models.User) error
}

// GenerationRepository defines the interface for formula generation history
type GenerationRepository interface {
	Create(gen *models.FormulaGeneration) error
	GetByUserID(userID uint, offset, limit int) ([]models.FormulaGeneration, error)
	CountByUserID(userID uint) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User       UserRepository
	Generation GenerationRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:       NewUserRepository(db),
		Generation: NewGenerationRepository(db),
	}
}
