// Package router maps a task's assessed complexity, the operator's
// configuration, and historical success rates onto a starting model
// tier and an escalation ladder, generalizing the teacher's named-agent
// selection (internal/executor/qc_selection.go, base_selector.go) from
// "which agent" to "which tier."
package router

import (
	"github.com/undercity-dev/undercity/internal/complexity"
	"github.com/undercity-dev/undercity/internal/config"
)

// Tier is a quality/cost band of the underlying model.
type Tier string

const (
	TierLow Tier = "low"
	TierMid Tier = "mid"
	TierTop Tier = "top"
)

var tierLadder = []Tier{TierLow, TierMid, TierTop}

func tierIndex(t Tier) int {
	for i, candidate := range tierLadder {
		if candidate == t {
			return i
		}
	}
	return -1
}

// ReviewLevel is the outcome of determineReviewLevel: whether to run a
// review pass at all, whether to use multiple review lenses, and the
// highest tier a review may escalate to.
type ReviewLevel struct {
	Review       bool
	MultiLens    bool
	MaxReviewTier Tier
}

// SuccessStats is the historical (model, complexity) outcome record used
// by AdjustModelFromMetrics to detect an underperforming tier.
type SuccessStats struct {
	Successes int
	Attempts  int
}

// SuccessRate returns successes/attempts, or 1.0 (assume healthy) when
// there is no sample yet.
func (s SuccessStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 1.0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Router resolves complexity assessments and router configuration into
// concrete model identifiers.
type Router struct {
	cfg config.RouterConfig
}

// New constructs a Router bound to the given configuration's model names
// and escalation policy.
func New(cfg config.RouterConfig) *Router {
	return &Router{cfg: cfg}
}

// ModelFor maps a tier to the operator-configured model identifier.
func (r *Router) ModelFor(tier Tier) string {
	switch tier {
	case TierLow:
		return r.cfg.LowModel
	case TierMid:
		return r.cfg.MidModel
	case TierTop:
		return r.cfg.TopModel
	default:
		return r.cfg.MidModel
	}
}

// maxTier resolves the configured tier cap, defaulting to top when unset
// or unrecognized.
func (r *Router) maxTier() Tier {
	switch Tier(r.cfg.MaxTier) {
	case TierLow, TierMid, TierTop:
		return Tier(r.cfg.MaxTier)
	default:
		return TierTop
	}
}

func capAt(tier, max Tier) Tier {
	if tierIndex(tier) > tierIndex(max) {
		return max
	}
	return tier
}

// DetermineStartingModel implements spec.md §4.4's ordered rule set:
// an explicit override wins (capped at maxTier); test-related tasks are
// floored at mid; otherwise the tier follows the assessed complexity
// level; the result is always capped at maxTier.
func (r *Router) DetermineStartingModel(assessment complexity.Assessment, isTestRelated bool) Tier {
	maxTier := r.maxTier()

	if r.cfg.ModelOverride != "" {
		return capAt(Tier(r.cfg.ModelOverride), maxTier)
	}

	var tier Tier
	switch assessment.Level {
	case complexity.LevelCritical:
		tier = TierTop
	case complexity.LevelTrivial, complexity.LevelSimple, complexity.LevelStandard, complexity.LevelComplex:
		tier = TierMid
	default:
		tier = TierMid
	}

	if isTestRelated && tierIndex(tier) < tierIndex(TierMid) {
		tier = TierMid
	}

	return capAt(tier, maxTier)
}

// DetermineReviewLevel implements spec.md §4.4's review-tier cap: review
// is capped at mid for anything below critical, only critical unlocks
// top-tier multi-lens review.
func (r *Router) DetermineReviewLevel(assessment complexity.Assessment, reviewEnabled bool) ReviewLevel {
	if !reviewEnabled {
		return ReviewLevel{Review: false}
	}

	if assessment.Level == complexity.LevelCritical {
		return ReviewLevel{Review: true, MultiLens: true, MaxReviewTier: capAt(TierTop, r.maxTier())}
	}

	return ReviewLevel{Review: assessment.NeedsReview, MultiLens: false, MaxReviewTier: capAt(TierMid, r.maxTier())}
}

// NextTierResult is the outcome of GetNextModelTier.
type NextTierResult struct {
	CanEscalate bool
	NextTier    Tier
}

// GetNextModelTier enumerates {low, mid, top} in order; escalation never
// exceeds the top tier or the configured maxTier.
func (r *Router) GetNextModelTier(current Tier) NextTierResult {
	idx := tierIndex(current)
	if idx < 0 || idx >= len(tierLadder)-1 {
		return NextTierResult{CanEscalate: false, NextTier: current}
	}

	next := tierLadder[idx+1]
	if tierIndex(next) > tierIndex(r.maxTier()) {
		return NextTierResult{CanEscalate: false, NextTier: current}
	}

	return NextTierResult{CanEscalate: true, NextTier: next}
}

// AdjustModelFromMetrics upgrades the recommended tier by one step when
// historical success for (tier, complexity level) falls below threshold
// with at least minSamples observations. It never downgrades from top.
func (r *Router) AdjustModelFromMetrics(recommended Tier, stats SuccessStats, threshold float64, minSamples int) Tier {
	if recommended == TierTop {
		return recommended
	}
	if stats.Attempts < minSamples {
		return recommended
	}
	if stats.SuccessRate() >= threshold {
		return recommended
	}

	next := r.GetNextModelTier(recommended)
	if !next.CanEscalate {
		return recommended
	}
	return next.NextTier
}
