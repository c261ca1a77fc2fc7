package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/rfm-segmenter/internal/segmentation"
)

// SegmentRepo persists versioned segment assignments. Versions are strictly
// additive: a new run appends a version-tagged batch, prior versions are
// never mutated or deleted.
type SegmentRepo struct {
	db *sql.DB
}

// NewSegmentRepo creates a segment store over the given database.
func NewSegmentRepo(db *sql.DB) *SegmentRepo {
	return &SegmentRepo{db: db}
}

// schema creates the tables owned by this repo. The transactions table
// belongs to the upstream commerce system and is only read here.
const schema = `
CREATE TABLE IF NOT EXISTS segment_versions (
	version_id   UUID PRIMARY KEY,
	created_at   TIMESTAMPTZ NOT NULL,
	record_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segment_versions_created_at
	ON segment_versions (created_at DESC);

CREATE TABLE IF NOT EXISTS customer_segments (
	customer_id    TEXT NOT NULL,
	version_id     UUID NOT NULL REFERENCES segment_versions(version_id),
	recency_days   INTEGER NOT NULL,
	purchase_count INTEGER NOT NULL,
	total_spent    DOUBLE PRECISION NOT NULL,
	cluster_id     INTEGER NOT NULL,
	segment_label  TEXT NOT NULL,
	computed_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (customer_id, version_id)
);
CREATE INDEX IF NOT EXISTS idx_customer_segments_version
	ON customer_segments (version_id);

CREATE TABLE IF NOT EXISTS segment_models (
	version_id UUID PRIMARY KEY REFERENCES segment_versions(version_id),
	model      JSONB NOT NULL
);
`

// EnsureSchema creates the segmentation tables if they do not exist.
func (s *SegmentRepo) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LatestVersion returns the most recent version, or nil when no run has ever
// committed.
func (s *SegmentRepo) LatestVersion(ctx context.Context) (*segmentation.Version, error) {
	query := `
		SELECT version_id, created_at, record_count
		FROM segment_versions
		ORDER BY created_at DESC
		LIMIT 1
	`

	v := &segmentation.Version{}
	err := s.db.QueryRowContext(ctx, query).Scan(&v.ID, &v.CreatedAt, &v.RecordCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &segmentation.ConnectivityError{Op: "latest version", Err: err}
	}
	return v, nil
}

// CommitRun writes the version row, its assignments and its model artifact
// inside one transaction, so the version becomes visible atomically as a
// whole. Readers never observe a partially written version.
func (s *SegmentRepo) CommitRun(ctx context.Context, version segmentation.Version, assignments []segmentation.SegmentAssignment, model segmentation.ModelArtifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &segmentation.ConnectivityError{Op: "begin commit", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO segment_versions (version_id, created_at, record_count) VALUES ($1, $2, $3)`,
		version.ID, version.CreatedAt, version.RecordCount)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO customer_segments (
			customer_id, version_id, recency_days, purchase_count,
			total_spent, cluster_id, segment_label, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare assignment insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		_, err := stmt.ExecContext(ctx,
			a.CustomerID.String(), a.VersionID, a.RecencyDays, a.PurchaseCount,
			a.TotalSpent, a.ClusterID, a.SegmentLabel, a.ComputedAt)
		if err != nil {
			return fmt.Errorf("insert assignment for %s: %w", a.CustomerID, err)
		}
	}

	modelJSON, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("marshal model artifact: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO segment_models (version_id, model) VALUES ($1, $2)`,
		version.ID, modelJSON)
	if err != nil {
		return fmt.Errorf("insert model artifact: %w", err)
	}

	return tx.Commit()
}

// GetAssignment returns a customer's assignment within a specific version,
// or nil when the customer has no assignment there.
func (s *SegmentRepo) GetAssignment(ctx context.Context, id segmentation.CustomerID, version uuid.UUID) (*segmentation.SegmentAssignment, error) {
	query := `
		SELECT customer_id, version_id, recency_days, purchase_count,
			total_spent, cluster_id, segment_label, computed_at
		FROM customer_segments
		WHERE customer_id = $1 AND version_id = $2
	`
	return s.scanAssignment(s.db.QueryRowContext(ctx, query, id.String(), version))
}

// GetLatestAssignment returns a customer's assignment in the latest version,
// or nil when absent.
func (s *SegmentRepo) GetLatestAssignment(ctx context.Context, id segmentation.CustomerID) (*segmentation.SegmentAssignment, error) {
	query := `
		SELECT cs.customer_id, cs.version_id, cs.recency_days, cs.purchase_count,
			cs.total_spent, cs.cluster_id, cs.segment_label, cs.computed_at
		FROM customer_segments cs
		WHERE cs.customer_id = $1
			AND cs.version_id = (
				SELECT version_id FROM segment_versions
				ORDER BY created_at DESC LIMIT 1
			)
	`
	return s.scanAssignment(s.db.QueryRowContext(ctx, query, id.String()))
}

func (s *SegmentRepo) scanAssignment(row *sql.Row) (*segmentation.SegmentAssignment, error) {
	a := &segmentation.SegmentAssignment{}
	var customerID string
	err := row.Scan(&customerID, &a.VersionID, &a.RecencyDays, &a.PurchaseCount,
		&a.TotalSpent, &a.ClusterID, &a.SegmentLabel, &a.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &segmentation.ConnectivityError{Op: "get assignment", Err: err}
	}
	a.CustomerID = segmentation.ParseCustomerID(customerID)
	return a, nil
}

// Distribution returns the per-label assignment counts for a version.
func (s *SegmentRepo) Distribution(ctx context.Context, version uuid.UUID) (map[string]int, error) {
	query := `
		SELECT segment_label, COUNT(*)
		FROM customer_segments
		WHERE version_id = $1
		GROUP BY segment_label
	`

	rows, err := s.db.QueryContext(ctx, query, version)
	if err != nil {
		return nil, &segmentation.ConnectivityError{Op: "distribution", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, &segmentation.ConnectivityError{Op: "scan distribution", Err: err}
		}
		counts[label] = count
	}
	return counts, rows.Err()
}

// List returns every assignment in a version.
func (s *SegmentRepo) List(ctx context.Context, version uuid.UUID) ([]segmentation.SegmentAssignment, error) {
	query := `
		SELECT customer_id, version_id, recency_days, purchase_count,
			total_spent, cluster_id, segment_label, computed_at
		FROM customer_segments
		WHERE version_id = $1
		ORDER BY customer_id
	`

	rows, err := s.db.QueryContext(ctx, query, version)
	if err != nil {
		return nil, &segmentation.ConnectivityError{Op: "list assignments", Err: err}
	}
	defer rows.Close()

	var result []segmentation.SegmentAssignment
	for rows.Next() {
		var a segmentation.SegmentAssignment
		var customerID string
		if err := rows.Scan(&customerID, &a.VersionID, &a.RecencyDays, &a.PurchaseCount,
			&a.TotalSpent, &a.ClusterID, &a.SegmentLabel, &a.ComputedAt); err != nil {
			return nil, &segmentation.ConnectivityError{Op: "scan assignment", Err: err}
		}
		a.CustomerID = segmentation.ParseCustomerID(customerID)
		result = append(result, a)
	}
	return result, rows.Err()
}

// GetModel returns the stored model artifact for a version, or nil when
// absent.
func (s *SegmentRepo) GetModel(ctx context.Context, version uuid.UUID) (*segmentation.ModelArtifact, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT model FROM segment_models WHERE version_id = $1`, version).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &segmentation.ConnectivityError{Op: "get model", Err: err}
	}

	var model segmentation.ModelArtifact
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("unmarshal model artifact: %w", err)
	}
	return &model, nil
}
