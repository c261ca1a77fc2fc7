package segmentation

import (
	"fmt"
	"sort"
	"time"

	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
)

// Segmenter fits a k-means model on standardized RFM metrics and maps the
// numeric clusters to human-readable labels. Labels are an ordered list of
// length k, indexed by descending centroid rank: rank 0 is always the "best"
// label, rank k-1 always the "worst".
type Segmenter struct {
	k        int
	labels   []string
	seed     int64
	restarts int
	maxIter  int
}

// NewSegmenter creates a Segmenter. The label list must match the cluster
// count exactly; the centroid-rank mapping is undefined otherwise.
func NewSegmenter(k int, labels []string, seed int64, restarts, maxIter int) (*Segmenter, error) {
	if k < 1 {
		return nil, fmt.Errorf("cluster count must be >= 1, got %d", k)
	}
	if len(labels) != k {
		return nil, fmt.Errorf("label list length %d does not match cluster count %d", len(labels), k)
	}
	if restarts < 1 {
		restarts = 1
	}
	if maxIter < 1 {
		maxIter = 100
	}
	return &Segmenter{
		k:        k,
		labels:   append([]string(nil), labels...),
		seed:     seed,
		restarts: restarts,
		maxIter:  maxIter,
	}, nil
}

// FitAndLabel clusters the metrics and derives one assignment per input
// customer. cluster_id to segment_label is a bijection within the run. Fewer
// distinct samples than k is a ClusteringError; k is never reduced silently.
func (s *Segmenter) FitAndLabel(metrics []ScaledMetric, computedAt time.Time) ([]SegmentAssignment, *ModelArtifact, error) {
	points := make([][]float64, len(metrics))
	distinct := make(map[[3]float64]bool, len(metrics))
	for i, m := range metrics {
		points[i] = []float64{m.RecencyZ, m.FrequencyZ, m.MonetaryZ}
		distinct[[3]float64{m.RecencyZ, m.FrequencyZ, m.MonetaryZ}] = true
	}
	if len(distinct) < s.k {
		return nil, nil, &ClusteringError{Distinct: len(distinct), K: s.k}
	}

	fit := runKMeans(points, s.k, s.restarts, s.maxIter, s.seed)

	labelByCluster := s.rankLabels(fit.centroids)

	assignments := make([]SegmentAssignment, len(metrics))
	for i, m := range metrics {
		cluster := fit.assignments[i]
		assignments[i] = SegmentAssignment{
			CustomerID:    m.CustomerID,
			RecencyDays:   m.RecencyDays,
			PurchaseCount: m.PurchaseCount,
			TotalSpent:    m.TotalSpent,
			ClusterID:     cluster,
			SegmentLabel:  labelByCluster[cluster],
			ComputedAt:    computedAt,
		}
	}

	artifact := &ModelArtifact{
		K:         s.k,
		Centroids: fit.centroids,
		Labels:    labelByCluster,
		Inertia:   fit.inertia,
	}

	logger.Info("kmeans model fitted", "k", s.k, "samples", len(metrics), "inertia", fmt.Sprintf("%.4f", fit.inertia))
	return assignments, artifact, nil
}

// rankLabels orders clusters by the sum of their centroid coordinates,
// descending, and assigns labels[rank] to each. Ties break on cluster index
// so the mapping stays deterministic.
func (s *Segmenter) rankLabels(centroids [][]float64) []string {
	type ranked struct {
		cluster int
		sum     float64
	}
	sums := make([]ranked, len(centroids))
	for c, centroid := range centroids {
		total := 0.0
		for _, v := range centroid {
			total += v
		}
		sums[c] = ranked{cluster: c, sum: total}
	}
	sort.SliceStable(sums, func(i, j int) bool {
		if sums[i].sum != sums[j].sum {
			return sums[i].sum > sums[j].sum
		}
		return sums[i].cluster < sums[j].cluster
	})

	labels := make([]string, len(centroids))
	for rank, r := range sums {
		labels[r.cluster] = s.labels[rank]
	}
	return labels
}
