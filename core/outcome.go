package core

// outcome.go – multi-dimensional SLO pass/fail.

import "fmt"

// OutcomeVector is the normalised (quality, latency, cost, tokens) vector:
// 1.0 means exactly at budget, below 1 means overage (capped at 0).
type OutcomeVector struct {
	Quality float64
	Latency float64
	Cost float64
	Tokens float64
}

// OutcomeVerifier computes the outcome vector for a result against its
// contract's SLO and decides pass/fail.
type OutcomeVerifier struct{}

// NewOutcomeVerifier builds an OutcomeVerifier.
func NewOutcomeVerifier() *OutcomeVerifier { return &OutcomeVerifier{} }

func normalizedBudget(used, budget float64) float64 {
	if budget <= 0 {
		return 1
	}
	v := budget / used
	if used <= budget {
		return 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// Compute derives the outcome vector for result against slo. Quality is the
// self-reported "quality" finding, or 1.0 if the result carries no quality
// dimension.
func (ov *OutcomeVerifier) Compute(result TaskResult, slo SLO) OutcomeVector {
	quality := 1.0
	for _, f := range result.Findings {
		if f.Dimension == "quality" {
			quality = f.Score
		}
	}
	return OutcomeVector{
		Quality: quality,
		Latency: normalizedBudget(float64(result.DurationMS), float64(slo.MaxDurationMS)),
		Cost: normalizedBudget(result.CostUSD, slo.MaxCostUSD),
		Tokens: normalizedBudget(float64(result.TokensUsed), float64(slo.MaxTokens)),
	}
}

// Verify returns ok=true iff every dimension is at or above its configured
// floor (1.0 for hard budgets, min_quality_score for quality), and the
// worst-dimension reason otherwise.
func (ov *OutcomeVerifier) Verify(vec OutcomeVector, slo SLO) (bool, string) {
	qualityFloor := 1.0
	if slo.MinQualityScore != nil {
		qualityFloor = *slo.MinQualityScore
	}
	dims := []struct {
		name string
		value float64
		floor float64
	}{
		{"latency", vec.Latency, 1.0},
		{"tokens", vec.Tokens, 1.0},
		{"cost", vec.Cost, 1.0},
		{"quality", vec.Quality, qualityFloor},
	}
	worstName := ""
	worstGap := 0.0
	ok := true
	for _, d := range dims {
		if d.value < d.floor {
			ok = false
			gap := d.floor - d.value
			if gap > worstGap {
				worstGap = gap
				worstName = d.name
			}
		}
	}
	if ok {
		return true, ""
	}
	return false, fmt.Sprintf("%s below floor", worstName)
}
