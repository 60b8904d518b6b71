package formula

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sheetgenius/sheetgenius/app/models"
	"github.com/sheetgenius/sheetgenius/app/repository"
	"github.com/sheetgenius/sheetgenius/internal/pkg/cache"
	"github.com/sheetgenius/sheetgenius/internal/pkg/entitlements"
	"github.com/sheetgenius/sheetgenius/internal/pkg/metrics/counter"
	"github.com/sheetgenius/sheetgenius/internal/pkg/openai"
)

var (
	// ErrMissingPrompt is returned when the prompt is empty after trimming.
	ErrMissingPrompt = errors.New("prompt is required")
	// ErrQuotaExceeded is returned when the user's plan allowance for the
	// current usage window is used up.
	ErrQuotaExceeded = errors.New("generation quota exceeded")
)

const (
	resultCacheKeyPrefix = "formula:result:"
	resultCacheTTL       = 24 * time.Hour
)

// Result is the outcome of a formula generation.
type Result struct {
	Formula     string `json:"formula"`
	Explanation string `json:"explanation"`
	FromCache   bool   `json:"-"`
	Plan        string `json:"-"`
	Remaining   int    `json:"-"` // -1 means unlimited
}

// Service runs the generate flow: quota, cache, model call, history record.
type Service struct {
	db   *gorm.DB
	llm  openai.Client
	gens repository.GenerationRepository
}

// NewService creates a formula service from injected collaborators.
func NewService(db *gorm.DB, llm openai.Client, gens repository.GenerationRepository) *Service {
	return &Service{db: db, llm: llm, gens: gens}
}

// Generate consumes one unit of the user's quota and produces a formula for
// the prompt. Identical prompts are served from the cache without a model
// call; they still count against the quota.
func (s *Service) Generate(ctx context.Context, userID uint, prompt string) (*Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrMissingPrompt
	}

	plan, remaining, err := s.consumeQuota(userID)
	if err != nil {
		return nil, err
	}

	result := &Result{Plan: string(plan), Remaining: remaining}
	cacheKey := resultCacheKey(prompt)
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		var stored Result
		if err := json.Unmarshal([]byte(cached), &stored); err == nil && stored.Formula != "" {
			result.Formula = stored.Formula
			result.Explanation = stored.Explanation
			result.FromCache = true
		}
	}

	if !result.FromCache {
		raw, err := s.llm.GenerateFormulaText(ctx, prompt)
		if err != nil {
			return nil, err
		}
		result.Formula, result.Explanation = openai.ParseFormulaText(raw)

		if encoded, err := json.Marshal(result); err == nil {
			if err := cache.Set(cacheKey, string(encoded), resultCacheTTL); err != nil {
				log.Printf("formula result cache write failed: %v", err)
			}
		}
	}

	// History and counters are best effort; the generated formula is already
	// paid for and must reach the caller.
	gen := &models.FormulaGeneration{
		UserID:      userID,
		Prompt:      prompt,
		Formula:     result.Formula,
		Explanation: result.Explanation,
		FromCache:   result.FromCache,
	}
	if err := s.gens.Create(gen); err != nil {
		log.Printf("formula history write failed for user %d: %v", userID, err)
	}
	if err := counter.AddGeneration(); err != nil {
		log.Printf("generation counter increment failed: %v", err)
	}

	return result, nil
}

// consumeQuota checks and increments the usage counter in a single
// transaction, resetting the window lazily when a new month has started.
// The returned remaining count is after the increment; -1 means unlimited.
func (s *Service) consumeQuota(userID uint) (entitlements.Plan, int, error) {
	var plan entitlements.Plan
	remaining := -1

	err := s.db.Transaction(func(tx *gorm.DB) error {
		profile, err := models.GetOrCreateUserProfile(tx, userID)
		if err != nil {
			return err
		}

		var locked models.UserProfile
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, profile.ID).Error; err != nil {
			return err
		}

		plan, remaining, err = applyQuota(&locked, time.Now())
		if err != nil {
			return err
		}

		return tx.Model(&models.UserProfile{}).
			Where("id = ?", locked.ID).
			Updates(map[string]interface{}{
				"usage_count":        locked.UsageCount,
				"usage_period_start": locked.UsagePeriodStart,
			}).Error
	})
	if err != nil {
		return plan, 0, err
	}
	return plan, remaining, nil
}

// applyQuota applies one generation to the profile: resets the usage window
// when a new UTC month has started, rejects the request at the plan limit and
// increments the counter otherwise. The returned remaining count is after the
// increment; -1 means unlimited.
func applyQuota(profile *models.UserProfile, now time.Time) (entitlements.Plan, int, error) {
	windowStart := models.MonthStartUTC(now)
	if profile.UsagePeriodStart.Before(windowStart) {
		profile.UsageCount = 0
		profile.UsagePeriodStart = windowStart
	}

	plan := entitlements.Normalize(profile.Plan)
	limit := entitlements.MonthlyGenerationLimit(plan)
	if limit > 0 && profile.UsageCount >= limit {
		return plan, 0, ErrQuotaExceeded
	}

	profile.UsageCount++
	remaining := -1
	if limit > 0 {
		remaining = limit - profile.UsageCount
	}
	return plan, remaining, nil
}

func resultCacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return resultCacheKeyPrefix + hex.EncodeToString(sum[:])
}
