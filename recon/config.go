package recon

import (
	"fmt"
	"math"
	"time"
)

// Config carries every tunable the engine consults. Callers pass it explicitly
// on each Reconcile call; there is no package-level state to mutate. Zero
// values are not usable, start from DefaultConfig and override fields.
type Config struct {
	// Component weights for line-item similarity. They must sum to 1. When
	// the purchase order line carries no lot number the lot weight is
	// redistributed proportionally across the remaining components.
	IdentifierWeight float64
	LotWeight        float64
	QuantityWeight   float64
	PriceWeight      float64

	// NullCreditFactor is the fraction of a full identifier score granted
	// when only one side carries a usable identifier and the descriptions
	// agree closely.
	NullCreditFactor float64

	// DescriptionCreditFloor is the minimum normalized Levenshtein similarity
	// between descriptions for the null credit to apply.
	DescriptionCreditFloor float64

	// PairScoreFloor is the minimum similarity for a pair to be accepted
	// during greedy alignment.
	PairScoreFloor float64

	// Aggregate weights for the per-candidate overall score. They must sum
	// to 1.
	MeanSimilarityWeight float64
	HeaderWeight         float64
	CoverageWeight       float64

	// ConfidenceThreshold decides whether the best candidate is reported as
	// matched at all.
	ConfidenceThreshold float64

	// CandidateWindow caps how many purchase orders the fallback search may
	// hand to the matcher. Zero or negative means no cap.
	CandidateWindow int

	// PriceVarianceTolerance is the relative unit-price delta below which no
	// price issue is raised.
	PriceVarianceTolerance float64

	// VarianceErrorRatio is the relative quantity or price delta above which
	// a mismatch escalates from warning to error.
	VarianceErrorRatio float64

	// ReconciliationDate anchors lot expiry checks. Zero means time.Now in
	// UTC, which makes replays of stored invoices drift; batch jobs should
	// pin it.
	ReconciliationDate time.Time
}

func DefaultConfig() Config {
	return Config{
		IdentifierWeight:       0.45,
		LotWeight:              0.15,
		QuantityWeight:         0.20,
		PriceWeight:            0.20,
		NullCreditFactor:       0.5,
		DescriptionCreditFloor: 0.75,
		PairScoreFloor:         0.35,
		MeanSimilarityWeight:   0.7,
		HeaderWeight:           0.2,
		CoverageWeight:         0.1,
		ConfidenceThreshold:    0.5,
		CandidateWindow:        10,
		PriceVarianceTolerance: 0.02,
		VarianceErrorRatio:     0.10,
	}
}

// Validate rejects configurations the scoring model cannot interpret. It is
// called by Reconcile so a miswired caller fails loudly instead of producing
// skewed scores.
func (c Config) Validate() error {
	unitRange := []struct {
		name  string
		value float64
	}{
		{"IdentifierWeight", c.IdentifierWeight},
		{"LotWeight", c.LotWeight},
		{"QuantityWeight", c.QuantityWeight},
		{"PriceWeight", c.PriceWeight},
		{"MeanSimilarityWeight", c.MeanSimilarityWeight},
		{"HeaderWeight", c.HeaderWeight},
		{"CoverageWeight", c.CoverageWeight},
		{"NullCreditFactor", c.NullCreditFactor},
		{"DescriptionCreditFloor", c.DescriptionCreditFloor},
		{"PairScoreFloor", c.PairScoreFloor},
		{"ConfidenceThreshold", c.ConfidenceThreshold},
	}
	for _, f := range unitRange {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("recon config: %s %v outside [0,1]", f.name, f.value)
		}
	}
	if sum := c.IdentifierWeight + c.LotWeight + c.QuantityWeight + c.PriceWeight; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("recon config: line similarity weights sum to %v, want 1", sum)
	}
	if sum := c.MeanSimilarityWeight + c.HeaderWeight + c.CoverageWeight; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("recon config: aggregate weights sum to %v, want 1", sum)
	}
	if c.PriceVarianceTolerance < 0 {
		return fmt.Errorf("recon config: PriceVarianceTolerance %v negative", c.PriceVarianceTolerance)
	}
	if c.VarianceErrorRatio < 0 {
		return fmt.Errorf("recon config: VarianceErrorRatio %v negative", c.VarianceErrorRatio)
	}
	return nil
}

func (c Config) reconciliationDate() time.Time {
	if c.ReconciliationDate.IsZero() {
		return time.Now().UTC()
	}
	return c.ReconciliationDate
}
