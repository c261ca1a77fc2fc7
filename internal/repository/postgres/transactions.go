// Package postgres implements the segmentation collaborator interfaces on
// PostgreSQL via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/rfm-segmenter/internal/segmentation"
)

// qualifyingStatuses is the fixed set of transaction states that count
// toward RFM metrics.
var qualifyingStatuses = []string{"processed", "completed", "delivered"}

// TransactionRepo reads the upstream transactions table. It never writes.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo creates a transaction source over the given database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// AggregateByCustomer groups qualifying transactions per customer, computing
// the most recent purchase, the purchase count and the total spent. Customers
// without qualifying transactions produce no row.
func (r *TransactionRepo) AggregateByCustomer(ctx context.Context) ([]segmentation.AggregateRow, error) {
	query := `
		SELECT customer_id, MAX(created_at) AS last_purchase,
			COUNT(*)::float8 AS purchase_count, SUM(amount) AS total_spent
		FROM transactions
		WHERE status = ANY($1)
		GROUP BY customer_id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(qualifyingStatuses))
	if err != nil {
		return nil, &segmentation.ConnectivityError{Op: "aggregate transactions", Err: err}
	}
	defer rows.Close()

	var result []segmentation.AggregateRow
	for rows.Next() {
		var row segmentation.AggregateRow
		var customerID sql.NullString
		if err := rows.Scan(&customerID, &row.LastPurchase, &row.PurchaseCount, &row.TotalSpent); err != nil {
			return nil, &segmentation.ConnectivityError{Op: "scan transaction aggregate", Err: err}
		}
		row.CustomerID = customerID.String
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &segmentation.ConnectivityError{Op: "iterate transaction aggregates", Err: err}
	}

	return result, nil
}

// CountQualifyingSince counts qualifying transactions created strictly after
// the given instant.
func (r *TransactionRepo) CountQualifyingSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE status = ANY($1) AND created_at > $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, pq.Array(qualifyingStatuses), since).Scan(&count); err != nil {
		return 0, &segmentation.ConnectivityError{Op: "count new transactions", Err: err}
	}
	return count, nil
}
