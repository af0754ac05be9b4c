// Package aggregator folds per-metric results into category scores, a
// weighted composite, and the comparative delta. Aggregation is pure
// arithmetic over already-collected results: it performs no backend calls
// and is deterministic for a given input.
package aggregator

import (
	"math"

	"github.com/ahrav/go-appraise/internal/domain"
)

// AggregateDocument builds the per-document report from dispatched results.
// Category scores are the weighted mean of their constituent metric scores,
// using each result's metric weight (weight zero counts as 1). Degraded
// results count at their zero score but keep their weight in the
// denominator. Categories are reported in canonical order; a category with
// no results scores zero and still participates in the composite.
func AggregateDocument(
	doc domain.Document,
	chunkCount int,
	results []domain.MetricResult,
	weights domain.WeightPolicy,
) (*domain.DocumentReport, error) {
	if weights == nil {
		weights = domain.DefaultWeightPolicy()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	byCategory := make(map[domain.Category][]domain.MetricResult, len(domain.Categories()))
	for _, r := range results {
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}

	categoryResults := make([]domain.CategoryResult, 0, len(domain.Categories()))
	inputs := make(map[domain.Category]float64, len(domain.Categories()))
	var degraded []domain.DegradedMetric

	for _, category := range domain.Categories() {
		members := byCategory[category]

		var weightedSum, weightTotal float64
		degradedCount := 0
		for _, r := range members {
			w := r.Weight
			if w == 0 {
				w = 1
			}
			weightedSum += w * r.Score
			weightTotal += w
			if r.Degraded {
				degradedCount++
				degraded = append(degraded, domain.DegradedMetric{
					MetricName: r.MetricName,
					ChunkID:    r.ChunkID,
					Reason:     r.DegradedReason,
				})
			}
		}

		score := 0.0
		if weightTotal > 0 {
			score = weightedSum / weightTotal
		}

		categoryResults = append(categoryResults, domain.CategoryResult{
			Category:      category,
			MetricResults: members,
			CategoryScore: score,
			DegradedCount: degradedCount,
		})
		inputs[category] = score
	}

	// Sum in canonical category order: float addition is not associative,
	// so ranging the weight map would make the composite depend on map
	// iteration order.
	composite := 0.0
	for _, category := range domain.Categories() {
		composite += weights[category] * inputs[category]
	}

	return &domain.DocumentReport{
		Document:        doc,
		ChunkCount:      chunkCount,
		CategoryResults: categoryResults,
		Composite: domain.CompositeScore{
			Value:   composite,
			Weights: weights.Clone(),
			Inputs:  inputs,
		},
		DegradedMetrics: degraded,
	}, nil
}

// Compare derives the comparative outcome from two document reports. The
// delta is composite A minus composite B; deltas inside the tie band are
// labeled ties.
func Compare(a, b *domain.DocumentReport) domain.Comparison {
	delta := a.Composite.Value - b.Composite.Value

	label := domain.LabelTie
	if math.Abs(delta) > domain.TieEpsilon {
		if delta > 0 {
			label = domain.LabelAStronger
		} else {
			label = domain.LabelBStronger
		}
	}

	return domain.Comparison{Delta: delta, Label: label}
}
