package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sheetgenius/sheetgenius/internal/pkg/billing"
	"github.com/sheetgenius/sheetgenius/internal/pkg/entitlements"
	"github.com/sheetgenius/sheetgenius/internal/pkg/statistics"
)

// HandleHealth is the liveness check endpoint.
func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleStats returns public aggregate numbers for the landing page.
func HandleStats(c *fiber.Ctx) error {
	stats := statistics.GetStatistics()
	return c.JSON(fiber.Map{
		"total_users":       stats.TotalUsers,
		"total_generations": stats.TotalGenerations,
		"today_generations": stats.TodayGenerations,
	})
}

func planEntry(plan entitlements.Plan, priceID string) fiber.Map {
	limit := entitlements.MonthlyGenerationLimit(plan)
	var limitValue interface{}
	if limit > 0 {
		limitValue = limit
	}
	entry := fiber.Map{
		"plan":                plan,
		"monthly_generations": limitValue,
		"history_enabled":     entitlements.CanUseHistory(plan),
	}
	if priceID != "" {
		entry["price_id"] = priceID
	}
	return entry
}

// HandleRefreshStats forces a rebuild of the cached aggregate numbers.
// Admin only; attached behind the admin middleware.
func HandleRefreshStats(c *fiber.Ctx) error {
	if err := statistics.UpdateStatisticsCache(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "stats_refresh_failed",
			"message": "Could not refresh statistics",
		})
	}
	stats := statistics.GetStatistics()
	return c.JSON(fiber.Map{
		"total_users":       stats.TotalUsers,
		"total_generations": stats.TotalGenerations,
		"today_generations": stats.TodayGenerations,
	})
}

// HandlePricing lists the plan tiers with their quotas and checkout price ids.
func HandlePricing(c *fiber.Ctx) error {
	prices := billing.NewPriceTableFromEnv()
	return c.JSON(fiber.Map{
		"plans": []fiber.Map{
			planEntry(entitlements.PlanFree, ""),
			planEntry(entitlements.PlanStarter, prices.StarterPriceID),
			planEntry(entitlements.PlanPro, prices.ProPriceID),
		},
	})
}
