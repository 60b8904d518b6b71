package billing

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sheetgenius/sheetgenius/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	UpdateProfileBilling(update ProfileBillingUpdate) error
	GetProfileByUserID(userID uint) (*models.UserProfile, error)
	GetUserByID(userID uint) (*models.User, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpdateProfileBilling writes plan and billing identifiers onto the user's
// profile row, creating the row when signup has not materialized it yet.
func (r *gormRepository) UpdateProfileBilling(update ProfileBillingUpdate) error {
	profile, err := models.GetOrCreateUserProfile(r.db, update.UserID)
	if err != nil {
		return err
	}
	return r.db.Model(&models.UserProfile{}).
		Where("id = ?", profile.ID).
		Updates(map[string]interface{}{
			"plan":                   update.Plan,
			"stripe_customer_id":     update.StripeCustomerID,
			"stripe_subscription_id": update.StripeSubscriptionID,
		}).Error
}

func (r *gormRepository) GetProfileByUserID(userID uint) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := r.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormRepository) GetUserByID(userID uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkWebhookProcessed records the processing outcome. processed_at is only
// set on success; failed events keep a NULL processed_at so a later
// redelivery of the same event id gets another attempt.
func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	updates := map[string]interface{}{
		"processing_error": processingError,
	}
	if processingError == "" {
		now := nowFunc()
		updates["processed_at"] = &now
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
