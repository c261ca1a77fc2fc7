package segmentation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLabels = []string{"VIP", "Loyal", "Occasional", "Dormant"}

func scaledFixture(t *testing.T) []ScaledMetric {
	t.Helper()
	raw := []RawMetric{
		rawMetric("cust-a", 1, 20, 5000),
		rawMetric("cust-b", 5, 15, 3000),
		rawMetric("cust-c", 10, 5, 800),
		rawMetric("cust-d", 50, 2, 200),
		rawMetric("cust-e", 200, 1, 50),
	}
	scaled, err := NewNormalizer().Process(raw)
	require.NoError(t, err)
	return scaled
}

func TestNewSegmenter_LabelCountMustMatchK(t *testing.T) {
	_, err := NewSegmenter(4, []string{"VIP", "Dormant"}, 42, 10, 100)
	require.Error(t, err)

	_, err = NewSegmenter(0, nil, 42, 10, 100)
	require.Error(t, err)

	s, err := NewSegmenter(4, testLabels, 42, 10, 100)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSegmenter_BestGetsFirstLabelWorstGetsLast(t *testing.T) {
	s, err := NewSegmenter(4, testLabels, 42, 10, 100)
	require.NoError(t, err)

	assignments, model, err := s.FitAndLabel(scaledFixture(t), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, assignments, 5)
	require.NotNil(t, model)

	byID := map[CustomerID]SegmentAssignment{}
	for _, a := range assignments {
		byID[a.CustomerID] = a
	}
	assert.Equal(t, "VIP", byID["cust-a"].SegmentLabel)
	assert.Equal(t, "Dormant", byID["cust-e"].SegmentLabel)
}

func TestSegmenter_LabelsAreBijectiveWithClusters(t *testing.T) {
	s, err := NewSegmenter(4, testLabels, 42, 10, 100)
	require.NoError(t, err)

	assignments, model, err := s.FitAndLabel(scaledFixture(t), time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, model.Labels, 4)
	seen := map[string]bool{}
	for _, label := range model.Labels {
		assert.False(t, seen[label], "label %q assigned to two clusters", label)
		seen[label] = true
		assert.Contains(t, testLabels, label)
	}
	for _, a := range assignments {
		assert.Equal(t, model.Labels[a.ClusterID], a.SegmentLabel)
	}
}

func TestSegmenter_DeterministicAcrossRuns(t *testing.T) {
	metrics := scaledFixture(t)
	computedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s1, err := NewSegmenter(4, testLabels, 42, 10, 100)
	require.NoError(t, err)
	first, firstModel, err := s1.FitAndLabel(metrics, computedAt)
	require.NoError(t, err)

	s2, err := NewSegmenter(4, testLabels, 42, 10, 100)
	require.NoError(t, err)
	second, secondModel, err := s2.FitAndLabel(metrics, computedAt)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstModel.Centroids, secondModel.Centroids)
	assert.Equal(t, firstModel.Labels, secondModel.Labels)
	assert.Equal(t, firstModel.Inertia, secondModel.Inertia)
}

func TestSegmenter_TooFewDistinctSamples(t *testing.T) {
	s, err := NewSegmenter(4, testLabels, 42, 10, 100)
	require.NoError(t, err)

	// Three distinct points against k=4.
	metrics := []ScaledMetric{
		{CustomerID: "a", RecencyZ: 1, FrequencyZ: 1, MonetaryZ: 1},
		{CustomerID: "b", RecencyZ: 1, FrequencyZ: 1, MonetaryZ: 1},
		{CustomerID: "c", RecencyZ: 0, FrequencyZ: 0, MonetaryZ: 0},
		{CustomerID: "d", RecencyZ: -1, FrequencyZ: -1, MonetaryZ: -1},
	}

	_, _, err = s.FitAndLabel(metrics, time.Now().UTC())
	var cErr *ClusteringError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, 3, cErr.Distinct)
	assert.Equal(t, 4, cErr.K)
}

func TestSegmenter_ModelArtifactShape(t *testing.T) {
	s, err := NewSegmenter(4, testLabels, 42, 10, 100)
	require.NoError(t, err)

	_, model, err := s.FitAndLabel(scaledFixture(t), time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, 4, model.K)
	require.Len(t, model.Centroids, 4)
	for _, c := range model.Centroids {
		assert.Len(t, c, 3)
	}
	assert.GreaterOrEqual(t, model.Inertia, 0.0)
}
