package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FormulaGeneration records one successful formula request for the user's
// history view. The formula/explanation pair itself is transient API output;
// rows here are written best-effort and never block a response.
type FormulaGeneration struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UUID        string    `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Prompt      string    `gorm:"type:text;not null" json:"prompt"`
	Formula     string    `gorm:"type:text;not null" json:"formula"`
	Explanation string    `gorm:"type:text" json:"explanation"`
	FromCache   bool      `gorm:"default:false" json:"from_cache"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not set one.
func (g *FormulaGeneration) BeforeCreate(tx *gorm.DB) error {
	if g.UUID == "" {
		g.UUID = uuid.New().String()
	}
	return nil
}
