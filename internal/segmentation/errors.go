package segmentation

import "fmt"

// ValidationError reports a required raw field missing from an otherwise
// non-empty extraction. Fatal to the run; no version is written.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("required field missing from extraction: %s", e.Field)
}

// ConnectivityError reports an unreachable transaction source or result
// store. Fatal per attempt; retry policy belongs to the caller.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ClusteringError reports that the cleaned dataset cannot support the
// requested cluster count. The run aborts before any write; the cluster
// count is never silently reduced.
type ClusteringError struct {
	Distinct int
	K        int
}

func (e *ClusteringError) Error() string {
	return fmt.Sprintf("clustering requires at least %d distinct samples, got %d", e.K, e.Distinct)
}
