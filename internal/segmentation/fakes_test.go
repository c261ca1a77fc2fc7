package segmentation

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeSource is an in-memory TransactionSource.
type fakeSource struct {
	rows       []AggregateRow
	countSince int
	aggErr     error
	countErr   error
}

func (f *fakeSource) AggregateByCustomer(ctx context.Context) ([]AggregateRow, error) {
	if f.aggErr != nil {
		return nil, f.aggErr
	}
	return f.rows, nil
}

func (f *fakeSource) CountQualifyingSince(ctx context.Context, since time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.countSince, nil
}

// fakeStore is an in-memory AssignmentStore.
type fakeStore struct {
	mu        sync.Mutex
	latest    *Version
	byVersion map[uuid.UUID][]SegmentAssignment
	models    map[uuid.UUID]ModelArtifact
	commitErr error
	commits   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byVersion: make(map[uuid.UUID][]SegmentAssignment),
		models:    make(map[uuid.UUID]ModelArtifact),
	}
}

func (f *fakeStore) LatestVersion(ctx context.Context) (*Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeStore) CommitRun(ctx context.Context, version Version, assignments []SegmentAssignment, model ModelArtifact) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = &version
	f.byVersion[version.ID] = append([]SegmentAssignment(nil), assignments...)
	f.models[version.ID] = model
	f.commits++
	return nil
}

func (f *fakeStore) GetAssignment(ctx context.Context, id CustomerID, version uuid.UUID) (*SegmentAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byVersion[version] {
		if a.CustomerID == id {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetLatestAssignment(ctx context.Context, id CustomerID) (*SegmentAssignment, error) {
	f.mu.Lock()
	latest := f.latest
	f.mu.Unlock()
	if latest == nil {
		return nil, nil
	}
	return f.GetAssignment(ctx, id, latest.ID)
}

func (f *fakeStore) Distribution(ctx context.Context, version uuid.UUID) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range f.byVersion[version] {
		counts[a.SegmentLabel]++
	}
	return counts, nil
}

func (f *fakeStore) List(ctx context.Context, version uuid.UUID) ([]SegmentAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SegmentAssignment(nil), f.byVersion[version]...), nil
}

// fakeLock implements distlock.DistLock without a backend.
type fakeLock struct {
	held       bool
	acquireErr error
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	return !f.held, nil
}

func (f *fakeLock) Release(ctx context.Context) error { return nil }

// aggRow builds a fully populated aggregate row.
func aggRow(id string, lastPurchase time.Time, count, spent float64) AggregateRow {
	return AggregateRow{
		CustomerID:    id,
		LastPurchase:  sql.NullTime{Time: lastPurchase, Valid: true},
		PurchaseCount: sql.NullFloat64{Float64: count, Valid: true},
		TotalSpent:    sql.NullFloat64{Float64: spent, Valid: true},
	}
}

// rawMetric builds a fully populated raw metric.
func rawMetric(id string, recencyDays, count, spent float64) RawMetric {
	return RawMetric{
		CustomerID:    CustomerID(id),
		RecencyDays:   sql.NullFloat64{Float64: recencyDays, Valid: true},
		PurchaseCount: sql.NullFloat64{Float64: count, Valid: true},
		TotalSpent:    sql.NullFloat64{Float64: spent, Valid: true},
	}
}
