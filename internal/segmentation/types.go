// Package segmentation computes RFM (Recency/Frequency/Monetary) customer
// segments from transactional history: metric extraction, normalization,
// k-means clustering with deterministic segment labels, a recompute gate,
// and versioned persistence of the resulting assignments.
package segmentation

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ==========================================
// CUSTOMER IDENTITY
// ==========================================

// CustomerID is the canonical customer identifier used by every core
// interface. Upstream systems refer to customers either by a plain string or
// by a 12-byte object identifier rendered as 24 hex characters; both forms
// canonicalize through ParseCustomerID and round-trip through String.
type CustomerID string

// ParseCustomerID converts a raw identifier to its canonical form. The
// conversion is total: hex object identifiers are lower-cased, everything
// else is kept verbatim (trimmed).
func ParseCustomerID(raw string) CustomerID {
	raw = strings.TrimSpace(raw)
	if isHexObjectID(raw) {
		return CustomerID(strings.ToLower(raw))
	}
	return CustomerID(raw)
}

// String returns the canonical wire form of the identifier.
func (id CustomerID) String() string { return string(id) }

func isHexObjectID(s string) bool {
	if len(s) != 24 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ==========================================
// PIPELINE DATA
// ==========================================

// AggregateRow is one grouped row from the transaction source: the qualifying
// purchase history of a single customer. Numeric aggregates stay nullable
// here; the Normalizer decides what to do with missing values.
type AggregateRow struct {
	CustomerID    string
	LastPurchase  sql.NullTime
	PurchaseCount sql.NullFloat64
	TotalSpent    sql.NullFloat64
}

// RawMetric is the per-customer RFM tuple before cleaning. RecencyDays is
// derived from LastPurchaseAt against the single reference instant captured
// at the start of the run.
type RawMetric struct {
	CustomerID     CustomerID
	LastPurchaseAt time.Time
	RecencyDays    sql.NullFloat64
	PurchaseCount  sql.NullFloat64
	TotalSpent     sql.NullFloat64
}

// ScaledMetric is a cleaned, standardized RFM tuple ready for clustering.
// Recency is inverted before scaling, so larger z means more recent across
// all three dimensions. The raw whole-number values are carried along so the
// Result Store persists what was extracted, not what was scaled.
type ScaledMetric struct {
	CustomerID CustomerID
	RecencyZ   float64
	FrequencyZ float64
	MonetaryZ  float64

	RecencyDays   int
	PurchaseCount int
	TotalSpent    float64
}

// SegmentAssignment is one customer's segment for one version.
type SegmentAssignment struct {
	CustomerID    CustomerID `json:"customer_id"`
	RecencyDays   int        `json:"recency_days"`
	PurchaseCount int        `json:"purchase_count"`
	TotalSpent    float64    `json:"total_spent"`
	ClusterID     int        `json:"cluster_id"`
	SegmentLabel  string     `json:"segment_label"`
	ComputedAt    time.Time  `json:"computed_at"`
	VersionID     uuid.UUID  `json:"version_id"`
}

// Version groups exactly one run's assignments. Immutable once written.
type Version struct {
	ID          uuid.UUID `json:"version_id"`
	CreatedAt   time.Time `json:"created_at"`
	RecordCount int       `json:"record_count"`
}

// ModelArtifact is the fitted clustering model for one version: centroids in
// standardized feature space plus the label each cluster resolved to. Kept
// per version so staleness is decided by the gate's data-driven threshold,
// never by the wall-clock age of a cached file.
type ModelArtifact struct {
	VersionID uuid.UUID   `json:"version_id"`
	K         int         `json:"k"`
	Centroids [][]float64 `json:"centroids"`
	Labels    []string    `json:"labels"` // indexed by cluster_id
	Inertia   float64     `json:"inertia"`
}

// RunSummary is the outcome of one orchestrated run.
type RunSummary struct {
	Success          bool           `json:"success"`
	Reason           string         `json:"reason,omitempty"`
	RecordsExtracted int            `json:"records_extracted"`
	RecordsSaved     int            `json:"records_saved"`
	SegmentCounts    map[string]int `json:"segment_counts,omitempty"`
	NewRecordCount   int            `json:"new_record_count,omitempty"`
	VersionID        string         `json:"version_id,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// ==========================================
// COLLABORATOR INTERFACES
// ==========================================

// TransactionSource provides filter + group-by + aggregate access to the
// upstream transaction store. Implementations must restrict to qualifying
// statuses (processed, completed, delivered).
type TransactionSource interface {
	// AggregateByCustomer returns one row per customer with at least one
	// qualifying transaction.
	AggregateByCustomer(ctx context.Context) ([]AggregateRow, error)
	// CountQualifyingSince counts qualifying transactions created strictly
	// after the given instant.
	CountQualifyingSince(ctx context.Context, since time.Time) (int, error)
}

// AssignmentStore persists and serves versioned segment assignments.
// Lookup misses return (nil, nil): a miss is a negative result, not a fault.
type AssignmentStore interface {
	// LatestVersion returns the most recent version, or nil when none exists.
	LatestVersion(ctx context.Context) (*Version, error)
	// CommitRun atomically persists a version, its assignments and its model
	// artifact. Readers never observe a partially written version.
	CommitRun(ctx context.Context, version Version, assignments []SegmentAssignment, model ModelArtifact) error
	// GetAssignment returns the assignment for a customer in a version.
	GetAssignment(ctx context.Context, id CustomerID, version uuid.UUID) (*SegmentAssignment, error)
	// GetLatestAssignment returns the assignment for a customer in the
	// latest version.
	GetLatestAssignment(ctx context.Context, id CustomerID) (*SegmentAssignment, error)
	// Distribution returns the per-label assignment counts for a version.
	Distribution(ctx context.Context, version uuid.UUID) (map[string]int, error)
	// List returns every assignment in a version.
	List(ctx context.Context, version uuid.UUID) ([]SegmentAssignment, error)
}
