package segmentation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/rfm-segmenter/internal/pkg/distlock"
	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
)

// LockFactory builds a fresh single-run lock per run attempt. Lock instances
// carry per-acquisition ownership state and must not be reused.
type LockFactory func() distlock.DistLock

// Orchestrator sequences the gate, extraction, normalization, clustering
// and storage steps and produces a run summary. At most one run is in flight
// at a time; reads
// stay concurrent and always observe one consistent committed version.
type Orchestrator struct {
	source     TransactionSource
	store      AssignmentStore
	extractor  *Extractor
	normalizer *Normalizer
	segmenter  *Segmenter
	gate       *Gate
	newLock    LockFactory
	timeout    time.Duration
	now        func() time.Time
}

// NewOrchestrator wires the pipeline components together. timeout bounds a
// whole run; an expired run is abandoned and commits nothing.
func NewOrchestrator(source TransactionSource, store AssignmentStore, segmenter *Segmenter, gate *Gate, newLock LockFactory, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		source:     source,
		store:      store,
		extractor:  NewExtractor(source),
		normalizer: NewNormalizer(),
		segmenter:  segmenter,
		gate:       gate,
		newLock:    newLock,
		timeout:    timeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the run clock. Intended for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Run executes one synchronous segmentation batch. The returned summary is
// always non-nil. A non-nil error accompanies fatal outcomes only; gate
// skips, lock contention and the empty dataset are reported as summaries.
func (o *Orchestrator) Run(ctx context.Context, force bool) (*RunSummary, error) {
	start := o.now()

	lock := o.newLock()
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return o.fail(start, fmt.Errorf("acquire run lock: %w", err))
	}
	if !acquired {
		logger.Warn("segmentation run skipped, another run is in flight")
		return &RunSummary{
			Success:   false,
			Reason:    "another segmentation run is in flight",
			Timestamp: start,
		}, nil
	}
	defer func() {
		// Best-effort: the lock self-expires (Redis TTL) or dies with the
		// session (PG advisory) if release fails.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("failed to release run lock", "error", err.Error())
		}
	}()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	decision, err := o.gate.Evaluate(ctx, force)
	if err != nil {
		return o.fail(start, fmt.Errorf("recompute gate: %w", err))
	}
	if !decision.Proceed {
		return &RunSummary{
			Success:        false,
			Reason:         decision.Reason,
			NewRecordCount: decision.NewRecords,
			Timestamp:      start,
		}, nil
	}

	logger.Info("segmentation run started", "force", force, "reason", decision.Reason)

	raw, err := o.extractor.Extract(ctx, start)
	if err != nil {
		return o.fail(start, err)
	}

	scaled, err := o.normalizer.Process(raw)
	if err != nil {
		return o.fail(start, err)
	}
	if len(scaled) == 0 {
		// Nothing to do is a successful outcome, not a failure. No version
		// is written.
		logger.Info("segmentation run finished with no data", "records_extracted", len(raw))
		return &RunSummary{
			Success:          true,
			Reason:           "no qualifying transactions to segment",
			RecordsExtracted: len(raw),
			Timestamp:        start,
		}, nil
	}

	assignments, artifact, err := o.segmenter.FitAndLabel(scaled, start)
	if err != nil {
		return o.fail(start, err)
	}

	version := Version{
		ID:          uuid.New(),
		CreatedAt:   start,
		RecordCount: len(assignments),
	}
	for i := range assignments {
		assignments[i].VersionID = version.ID
	}
	artifact.VersionID = version.ID

	if err := ctx.Err(); err != nil {
		// Deadline hit before the commit step: abandon without writing.
		return o.fail(start, fmt.Errorf("run deadline exceeded before commit: %w", err))
	}

	if err := o.store.CommitRun(ctx, version, assignments, *artifact); err != nil {
		return o.fail(start, fmt.Errorf("commit version: %w", err))
	}

	counts := make(map[string]int, o.segmenter.k)
	for _, a := range assignments {
		counts[a.SegmentLabel]++
	}

	logger.Info("segmentation run committed",
		"version_id", version.ID.String(),
		"records_extracted", len(raw),
		"records_saved", len(assignments))

	return &RunSummary{
		Success:          true,
		RecordsExtracted: len(raw),
		RecordsSaved:     len(assignments),
		SegmentCounts:    counts,
		NewRecordCount:   decision.NewRecords,
		VersionID:        version.ID.String(),
		Timestamp:        start,
	}, nil
}

// CheckNewData reports how many qualifying transactions arrived since the
// last version and whether that alone would trigger a run.
func (o *Orchestrator) CheckNewData(ctx context.Context) (int, bool, error) {
	decision, err := o.gate.Evaluate(ctx, false)
	if err != nil {
		return 0, false, err
	}
	return decision.NewRecords, decision.Proceed, nil
}

func (o *Orchestrator) fail(start time.Time, err error) (*RunSummary, error) {
	logger.Error("segmentation run failed", "error", err.Error())
	return &RunSummary{
		Success:   false,
		Reason:    err.Error(),
		Timestamp: start,
	}, err
}
