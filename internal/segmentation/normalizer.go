package segmentation

import (
	"fmt"
	"math"

	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
)

// Normalizer validates, cleans and standardizes raw metrics into a
// clustering-ready form. Scaling is fit fresh on every run; no scaler state
// survives between runs.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Process turns raw metrics into standardized ones. An empty extraction
// yields an empty result and no error so the pipeline can short-circuit.
// A non-empty extraction with a missing identity field is fatal; rows whose
// numeric values are missing after coercion are dropped, as are exact
// duplicates, and the removed count is logged.
func (n *Normalizer) Process(raw []RawMetric) ([]ScaledMetric, error) {
	if len(raw) == 0 {
		logger.Warn("no rfm metrics to process")
		return nil, nil
	}

	for _, m := range raw {
		if m.CustomerID == "" {
			return nil, &ValidationError{Field: "customer_id"}
		}
	}

	// Drop rows with missing values and exact duplicates.
	type rowKey struct {
		id      CustomerID
		recency float64
		count   float64
		spent   float64
	}
	seen := make(map[rowKey]bool, len(raw))
	clean := make([]ScaledMetric, 0, len(raw))
	for _, m := range raw {
		if !m.RecencyDays.Valid || !m.PurchaseCount.Valid || !m.TotalSpent.Valid {
			continue
		}
		key := rowKey{m.CustomerID, m.RecencyDays.Float64, m.PurchaseCount.Float64, m.TotalSpent.Float64}
		if seen[key] {
			continue
		}
		seen[key] = true
		clean = append(clean, ScaledMetric{
			CustomerID:    m.CustomerID,
			RecencyDays:   int(m.RecencyDays.Float64),
			PurchaseCount: int(m.PurchaseCount.Float64),
			TotalSpent:    m.TotalSpent.Float64,
		})
	}
	if removed := len(raw) - len(clean); removed > 0 {
		logger.Warn("dropped rows with missing or duplicate values", "removed", removed)
	}
	if len(clean) == 0 {
		return nil, nil
	}

	// Invert recency so higher is better on all three dimensions; the
	// centroid-rank label heuristic depends on that direction.
	maxRecency := 0.0
	for _, m := range clean {
		if r := float64(m.RecencyDays); r > maxRecency {
			maxRecency = r
		}
	}

	recency := make([]float64, len(clean))
	frequency := make([]float64, len(clean))
	monetary := make([]float64, len(clean))
	for i, m := range clean {
		recency[i] = maxRecency - float64(m.RecencyDays)
		frequency[i] = float64(m.PurchaseCount)
		monetary[i] = m.TotalSpent
	}

	standardize(recency)
	standardize(frequency)
	standardize(monetary)

	for i := range clean {
		clean[i].RecencyZ = recency[i]
		clean[i].FrequencyZ = frequency[i]
		clean[i].MonetaryZ = monetary[i]
	}

	logger.Info("rfm metrics normalized", "records", len(clean), "max_recency_days", fmt.Sprintf("%.0f", maxRecency))
	return clean, nil
}

// standardize rescales values in place to zero mean and unit variance.
// A zero-variance dimension maps to all zeros.
func standardize(values []float64) {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	std := math.Sqrt(variance)

	for i, v := range values {
		if std == 0 {
			values[i] = 0
		} else {
			values[i] = (v - mean) / std
		}
	}
}
