package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/sheetgenius/sheetgenius/app/models"
	"github.com/sheetgenius/sheetgenius/app/repository"
	"github.com/sheetgenius/sheetgenius/internal/pkg/database"
	"github.com/sheetgenius/sheetgenius/internal/pkg/entitlements"
	"github.com/sheetgenius/sheetgenius/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account, plan and usage information for the
// authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}
	profile, err := models.GetOrCreateUserProfile(db, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user profile"})
	}

	plan := entitlements.Normalize(profile.Plan)
	limit := entitlements.MonthlyGenerationLimit(plan)

	// Usage counts from a previous month read as zero; the stored row is only
	// reset on the next generation.
	usageCount := profile.UsageCount
	windowStart := models.MonthStartUTC(time.Now())
	if profile.UsagePeriodStart.Before(windowStart) {
		usageCount = 0
	}

	var limitValue interface{}
	var remainingValue interface{}
	if limit > 0 {
		limitValue = limit
		remaining := limit - usageCount
		if remaining < 0 {
			remaining = 0
		}
		remainingValue = remaining
	}

	response := fiber.Map{
		"id":            account.ID,
		"name":          account.Name,
		"email":         account.Email,
		"status":        account.Status,
		"plan":          string(plan),
		"is_admin":      account.Role == models.ROLE_ADMIN,
		"created_at":    account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at": formatTimePtr(account.LastLoginAt),
		"usage": fiber.Map{
			"count":        usageCount,
			"limit":        limitValue,
			"remaining":    remainingValue,
			"period_start": windowStart.Format(time.RFC3339),
		},
		"billing": fiber.Map{
			"customer_id":     profile.StripeCustomerID,
			"subscription_id": profile.StripeSubscriptionID,
		},
		"limits": fiber.Map{
			"monthly_generations": limitValue,
			"history_enabled":     entitlements.CanUseHistory(plan),
		},
		"api_key": fiber.Map{
			"prefix":       profile.APIKeyPrefix,
			"created_at":   formatTimePtr(profile.APIKeyCreatedAt),
			"last_used_at": formatTimePtr(profile.APIKeyLastUsedAt),
		},
	}

	return c.JSON(response)
}
