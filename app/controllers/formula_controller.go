package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sheetgenius/sheetgenius/app/repository"
	"github.com/sheetgenius/sheetgenius/internal/pkg/entitlements"
	"github.com/sheetgenius/sheetgenius/internal/pkg/formula"
	"github.com/sheetgenius/sheetgenius/internal/pkg/openai"
	"github.com/sheetgenius/sheetgenius/internal/pkg/usercontext"
)

const (
	historyDefaultLimit = 20
	historyMaxLimit     = 100
)

// FormulaGenerator is the service seam the controller calls; tests substitute
// it with a stub.
type FormulaGenerator interface {
	Generate(ctx context.Context, userID uint, prompt string) (*formula.Result, error)
}

var formulaSvc FormulaGenerator

// InitFormulaController wires the formula service once at startup.
func InitFormulaController(svc FormulaGenerator) {
	formulaSvc = svc
}

type generateFormulaRequest struct {
	Prompt string `json:"prompt"`
}

// HandleGenerateFormula turns a natural-language prompt into a spreadsheet
// formula for the authenticated user, enforcing the plan quota.
func HandleGenerateFormula(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req generateFormulaRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_prompt", "message": "prompt is required"})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_prompt", "message": "prompt is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	result, err := formulaSvc.Generate(ctx, userCtx.UserID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, formula.ErrMissingPrompt):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_prompt", "message": "prompt is required"})
		case errors.Is(err, formula.ErrQuotaExceeded):
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "quota_exceeded",
				"message": "Monthly generation limit reached. Upgrade your plan to continue.",
			})
		case errors.Is(err, openai.ErrNotConfigured):
			log.Printf("formula generation unavailable: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "openai_not_configured",
				"message": "Formula generation is not configured on this server",
			})
		default:
			log.Printf("formula generation failed for user %d: %v", userCtx.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "generation_failed"})
		}
	}

	response := fiber.Map{
		"formula":     result.Formula,
		"explanation": result.Explanation,
	}
	if result.Remaining >= 0 {
		response["remaining"] = result.Remaining
	}
	return c.JSON(response)
}

// HandleGenerationHistory returns a page of the user's past generations.
// History access starts at the starter plan.
func HandleGenerationHistory(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	plan := entitlements.Normalize(userCtx.Plan)
	if !entitlements.CanUseHistory(plan) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "plan_required",
			"message": "Generation history requires the starter plan or higher",
		})
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", historyDefaultLimit)
	if limit < 1 || limit > historyMaxLimit {
		limit = historyDefaultLimit
	}

	repo := repository.GetGlobalFactory().GetGenerationRepository()
	gens, err := repo.GetByUserID(userCtx.UserID, (page-1)*limit, limit)
	if err != nil {
		log.Printf("generation history lookup failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	total, err := repo.CountByUserID(userCtx.UserID)
	if err != nil {
		log.Printf("generation history count failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	items := make([]fiber.Map, 0, len(gens))
	for _, g := range gens {
		items = append(items, fiber.Map{
			"uuid":        g.UUID,
			"prompt":      g.Prompt,
			"formula":     g.Formula,
			"explanation": g.Explanation,
			"from_cache":  g.FromCache,
			"created_at":  g.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"items": items,
		"page":  page,
		"limit": limit,
		"total": total,
	})
}
