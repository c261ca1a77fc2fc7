package segmentation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
)

// Extractor turns the transaction source's grouped rows into raw RFM metrics.
// Recency is measured in whole days against a single reference instant
// captured once at the start of the run, so every customer in a run shares
// the same "now".
type Extractor struct {
	source TransactionSource
}

// NewExtractor creates an Extractor over the given transaction source.
func NewExtractor(source TransactionSource) *Extractor {
	return &Extractor{source: source}
}

// Extract aggregates qualifying transactions into one raw metric per
// customer. Customers with zero qualifying transactions never appear in the
// source's output and are therefore excluded here as well.
func (e *Extractor) Extract(ctx context.Context, reference time.Time) ([]RawMetric, error) {
	rows, err := e.source.AggregateByCustomer(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate transactions: %w", err)
	}

	metrics := make([]RawMetric, 0, len(rows))
	for _, row := range rows {
		m := RawMetric{
			CustomerID:    ParseCustomerID(row.CustomerID),
			PurchaseCount: row.PurchaseCount,
			TotalSpent:    row.TotalSpent,
		}
		if row.LastPurchase.Valid {
			m.LastPurchaseAt = row.LastPurchase.Time.UTC()
			m.RecencyDays = sql.NullFloat64{
				Float64: wholeDays(reference, m.LastPurchaseAt),
				Valid:   true,
			}
		}
		metrics = append(metrics, m)
	}

	logger.Info("rfm metrics extracted", "records", len(metrics), "reference", reference.Format(time.RFC3339))
	return metrics, nil
}

// wholeDays returns the whole-day difference between the reference instant
// and the last purchase, floored at zero for clock skew.
func wholeDays(reference, last time.Time) float64 {
	d := reference.Sub(last)
	if d < 0 {
		return 0
	}
	return float64(int(d.Hours() / 24))
}
