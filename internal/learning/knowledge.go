// Package learning implements the knowledge base, error→fix pattern
// ranking, task→file correlation scoring, and decision classification
// business logic that sits atop internal/persistence's relational store,
// generalizing the teacher's internal/learning package (store.go,
// knowledge_graph.go) from a single fixed agent roster's pattern memory
// into a model-tier-agnostic learning subsystem.
package learning

import (
	"context"
	"fmt"
	"strings"

	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/persistence"
)

// SimilarityFn scores how alike two pieces of content are, in [0, 1].
// The default is a Jaccard-style token-overlap measure; callers may
// supply an embedding-based implementation instead.
type SimilarityFn func(a, b string) float64

// DefaultNoveltyThreshold is the novelty score (1.0 - highest similarity)
// at or below which a new learning is considered a near-duplicate of an
// existing one (spec.md's "added
// may be true but noveltyScore < 1.0; near-duplicate may be rejected").
const DefaultNoveltyThreshold = 0.15

// KnowledgeBase stores and retrieves reusable Learnings, rejecting
// near-duplicates by content similarity.
type KnowledgeBase struct {
	store      *persistence.Store
	similarity SimilarityFn
	threshold  float64
}

// NewKnowledgeBase constructs a KnowledgeBase. A nil similarity function
// defaults to JaccardSimilarity.
func NewKnowledgeBase(store *persistence.Store, similarity SimilarityFn, noveltyThreshold float64) *KnowledgeBase {
	if similarity == nil {
		similarity = JaccardSimilarity
	}
	if noveltyThreshold <= 0 {
		noveltyThreshold = DefaultNoveltyThreshold
	}
	return &KnowledgeBase{store: store, similarity: similarity, threshold: noveltyThreshold}
}

// AddResult is the outcome of AddLearning.
type AddResult struct {
	Added        bool
	NoveltyScore float64 // 1.0 - highest similarity to any existing learning
	Learning     *models.Learning
	DuplicateOf  *models.Learning
}

// AddLearning inserts content as a new Learning unless it is a
// near-duplicate (by content similarity) of an existing entry in the
// same category, in which case the existing entry's confidence is
// nudged instead of inserting a redundant row.
func (k *KnowledgeBase) AddLearning(ctx context.Context, category models.LearningCategory, content string, keywords []string) (AddResult, error) {
	existing, err := k.store.ListLearnings(ctx, category)
	if err != nil {
		return AddResult{}, fmt.Errorf("list learnings: %w", err)
	}

	bestSim := 0.0
	var nearest *models.Learning
	for _, l := range existing {
		sim := k.similarity(content, l.Content)
		if sim > bestSim {
			bestSim = sim
			nearest = l
		}
	}
	novelty := 1.0 - bestSim

	if nearest != nil && bestSim >= (1.0-k.threshold) {
		nearest.RecordSuccess(0.02)
		if err := k.store.UpdateLearning(ctx, nearest); err != nil {
			return AddResult{}, fmt.Errorf("reinforce duplicate learning: %w", err)
		}
		return AddResult{Added: false, NoveltyScore: novelty, DuplicateOf: nearest}, nil
	}

	l := &models.Learning{
		Category:   category,
		Content:    content,
		Keywords:   keywords,
		Confidence: 0.5,
	}
	if err := k.store.InsertLearning(ctx, l); err != nil {
		return AddResult{}, fmt.Errorf("insert learning: %w", err)
	}
	return AddResult{Added: true, NoveltyScore: novelty, Learning: l}, nil
}

// RelevantLearnings returns a category's learnings whose keywords match
// any of the given query keywords, ranked by confidence descending.
func (k *KnowledgeBase) RelevantLearnings(ctx context.Context, category models.LearningCategory, queryKeywords []string) ([]*models.Learning, error) {
	all, err := k.store.ListLearnings(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list learnings: %w", err)
	}

	var matched []*models.Learning
	for _, l := range all {
		for _, kw := range queryKeywords {
			if l.MatchesKeyword(kw) {
				matched = append(matched, l)
				break
			}
		}
	}
	return matched, nil
}

// RecordOutcome applies a success/failure signal to a learning's
// confidence and persists the update.
func (k *KnowledgeBase) RecordOutcome(ctx context.Context, l *models.Learning, success bool) error {
	if success {
		l.RecordSuccess(0.1)
	} else {
		l.RecordFailure(0.1)
	}
	return k.store.UpdateLearning(ctx, l)
}

// JaccardSimilarity scores token-set overlap between two strings,
// case-insensitive and whitespace-tokenized. This is the default
// SimilarityFn; the teacher's own pattern/hash.go keyword-extraction
// style grounds the tokenization approach (lowercase, split on
// whitespace, set-based comparison) though the teacher uses it for
// search-term extraction rather than duplicate detection.
func JaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}
