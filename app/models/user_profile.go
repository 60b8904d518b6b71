package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// UserProfile stores per-user plan, usage and billing state. The stripe_*
// column names mirror the payment processor's vocabulary at the storage
// boundary.
type UserProfile struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	UserID               uint           `gorm:"uniqueIndex" json:"user_id"`
	Plan                 string         `gorm:"type:varchar(50);default:'free'" json:"plan"`
	UsageCount           int            `gorm:"not null;default:0" json:"usage_count"`
	UsagePeriodStart     time.Time      `gorm:"type:timestamp" json:"usage_period_start"`
	StripeCustomerID     string         `gorm:"column:stripe_customer_id;type:varchar(191);default:null;index" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string         `gorm:"column:stripe_subscription_id;type:varchar(191);default:null" json:"stripe_subscription_id,omitempty"`
	APIKeyHash           string         `gorm:"type:char(64);default:''" json:"-"`
	APIKeyPrefix         string         `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt      *time.Time     `json:"api_key_created_at"`
	APIKeyLastUsedAt     *time.Time     `json:"api_key_last_used_at"`
	APIKeyRevokedAt      *time.Time     `json:"api_key_revoked_at"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "shg_"

// GetOrCreateUserProfile returns existing profile or creates defaults
func GetOrCreateUserProfile(db *gorm.DB, userID uint) (*UserProfile, error) {
	var up UserProfile
	if err := db.Where("user_id = ?", userID).First(&up).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			up = UserProfile{UserID: userID, Plan: "free", UsagePeriodStart: MonthStartUTC(time.Now())}
			if err := db.Create(&up).Error; err != nil {
				return nil, err
			}
			return &up, nil
		}
		return nil, err
	}
	return &up, nil
}

// MonthStartUTC returns midnight UTC on the first day of t's month. Usage
// windows are anchored on it; the reset happens lazily on the next quota check.
func MonthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// HasActiveAPIKey reports whether the user has an active API key configured
func (up *UserProfile) HasActiveAPIKey() bool {
	return up != nil && up.APIKeyHash != "" && up.APIKeyRevokedAt == nil
}

// IssueAPIKey generates a new API key, persists metadata on the struct, and returns the raw secret.
// Callers must persist the struct via the database after invoking this method.
func (up *UserProfile) IssueAPIKey() (string, error) {
	rawKey, prefix, hash, err := generateAPIKeyMaterial()
	if err != nil {
		return "", err
	}
	now := time.Now()
	up.APIKeyHash = hash
	up.APIKeyPrefix = prefix
	up.APIKeyCreatedAt = &now
	up.APIKeyRevokedAt = nil
	up.APIKeyLastUsedAt = nil
	return rawKey, nil
}

// RevokeAPIKey clears the stored API key metadata without deleting the record.
func (up *UserProfile) RevokeAPIKey() {
	up.APIKeyHash = ""
	up.APIKeyPrefix = ""
	now := time.Now()
	up.APIKeyRevokedAt = &now
	up.APIKeyLastUsedAt = nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeyMaterial() (string, string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	encoded := strings.ToLower(apiKeyEncoding.EncodeToString(b))
	rawKey := apiKeyPrefix + encoded
	if len(rawKey) < 12 {
		return "", "", "", fmt.Errorf("api key generation failed: key too short")
	}
	prefix := rawKey[:min(len(rawKey), 16)]
	hash := HashAPIKey(rawKey)
	return rawKey, prefix, hash, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
