package entitlements

import "strings"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// Normalize maps arbitrary plan strings onto a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanStarter):
		return PlanStarter
	case string(PlanPro):
		return PlanPro
	default:
		return PlanFree
	}
}

// Rank orders plans for upgrade/downgrade comparisons.
func Rank(plan Plan) int {
	switch Normalize(string(plan)) {
	case PlanPro:
		return 2
	case PlanStarter:
		return 1
	default:
		return 0
	}
}

// MonthlyGenerationLimit returns how many formula generations a plan allows
// per usage window. Zero means unlimited.
func MonthlyGenerationLimit(plan Plan) int {
	switch Normalize(string(plan)) {
	case PlanPro:
		return 0
	case PlanStarter:
		return 200
	default:
		return 3
	}
}

// CanUseHistory reports whether the generation history endpoint is available
// on the given plan.
func CanUseHistory(plan Plan) bool {
	return Rank(plan) >= Rank(PlanStarter)
}
