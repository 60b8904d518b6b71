package models

import "time"

// DailyStat aggregates per-day counters flushed from Redis by the counter
// package (generations served, webhook events received).
type DailyStat struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Day           string    `gorm:"type:char(10);uniqueIndex" json:"day"` // YYYY-MM-DD
	Generations   int64     `gorm:"not null;default:0" json:"generations"`
	WebhookEvents int64     `gorm:"not null;default:0" json:"webhook_events"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
