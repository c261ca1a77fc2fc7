package segmentation

import (
	"context"
	"fmt"

	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
)

// Gate decides whether enough new activity has accumulated to justify a full
// recompute. It avoids re-clustering on negligible data drift while still
// allowing a manual override.
type Gate struct {
	source    TransactionSource
	store     AssignmentStore
	threshold int
}

// GateDecision is the outcome of a gate evaluation.
type GateDecision struct {
	Proceed     bool
	Reason      string
	NewRecords  int
	LastVersion *Version
}

// NewGate creates a Gate with the given new-record threshold.
func NewGate(source TransactionSource, store AssignmentStore, threshold int) *Gate {
	if threshold < 1 {
		threshold = 50
	}
	return &Gate{source: source, store: store, threshold: threshold}
}

// Evaluate applies the recompute policy: force always proceeds, a missing
// prior version always proceeds (cold start), otherwise the count of
// qualifying transactions created after the last version must reach the
// threshold.
func (g *Gate) Evaluate(ctx context.Context, force bool) (GateDecision, error) {
	if force {
		return GateDecision{Proceed: true, Reason: "forced"}, nil
	}

	last, err := g.store.LatestVersion(ctx)
	if err != nil {
		return GateDecision{}, fmt.Errorf("latest version: %w", err)
	}
	if last == nil {
		return GateDecision{Proceed: true, Reason: "no prior version"}, nil
	}

	count, err := g.source.CountQualifyingSince(ctx, last.CreatedAt)
	if err != nil {
		return GateDecision{}, fmt.Errorf("count new transactions: %w", err)
	}

	if count < g.threshold {
		logger.Info("recompute gate skipped run", "new_records", count, "threshold", g.threshold)
		return GateDecision{
			Proceed:     false,
			Reason:      fmt.Sprintf("only %d new qualifying transactions since last run (threshold %d)", count, g.threshold),
			NewRecords:  count,
			LastVersion: last,
		}, nil
	}

	return GateDecision{Proceed: true, Reason: "threshold reached", NewRecords: count, LastVersion: last}, nil
}

// Threshold returns the configured new-record threshold.
func (g *Gate) Threshold() int { return g.threshold }
