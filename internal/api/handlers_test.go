package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/rfm-segmenter/internal/pkg/distlock"
	"github.com/ignite/rfm-segmenter/internal/segmentation"
)

type stubSource struct {
	rows       []segmentation.AggregateRow
	countSince int
}

func (s *stubSource) AggregateByCustomer(ctx context.Context) ([]segmentation.AggregateRow, error) {
	return s.rows, nil
}

func (s *stubSource) CountQualifyingSince(ctx context.Context, since time.Time) (int, error) {
	return s.countSince, nil
}

type stubStore struct {
	latest    *segmentation.Version
	byVersion map[uuid.UUID][]segmentation.SegmentAssignment
}

func newStubStore() *stubStore {
	return &stubStore{byVersion: map[uuid.UUID][]segmentation.SegmentAssignment{}}
}

func (s *stubStore) LatestVersion(ctx context.Context) (*segmentation.Version, error) {
	return s.latest, nil
}

func (s *stubStore) CommitRun(ctx context.Context, version segmentation.Version, assignments []segmentation.SegmentAssignment, model segmentation.ModelArtifact) error {
	s.latest = &version
	s.byVersion[version.ID] = assignments
	return nil
}

func (s *stubStore) GetAssignment(ctx context.Context, id segmentation.CustomerID, version uuid.UUID) (*segmentation.SegmentAssignment, error) {
	for _, a := range s.byVersion[version] {
		if a.CustomerID == id {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *stubStore) GetLatestAssignment(ctx context.Context, id segmentation.CustomerID) (*segmentation.SegmentAssignment, error) {
	if s.latest == nil {
		return nil, nil
	}
	return s.GetAssignment(ctx, id, s.latest.ID)
}

func (s *stubStore) Distribution(ctx context.Context, version uuid.UUID) (map[string]int, error) {
	counts := map[string]int{}
	for _, a := range s.byVersion[version] {
		counts[a.SegmentLabel]++
	}
	return counts, nil
}

func (s *stubStore) List(ctx context.Context, version uuid.UUID) ([]segmentation.SegmentAssignment, error) {
	return s.byVersion[version], nil
}

type stubLock struct{ held bool }

func (l *stubLock) Acquire(ctx context.Context) (bool, error) { return !l.held, nil }
func (l *stubLock) Release(ctx context.Context) error         { return nil }

func sourceRow(id string, daysAgo, count, spent float64) segmentation.AggregateRow {
	return segmentation.AggregateRow{
		CustomerID:    id,
		LastPurchase:  sql.NullTime{Time: time.Now().UTC().AddDate(0, 0, -int(daysAgo)), Valid: true},
		PurchaseCount: sql.NullFloat64{Float64: count, Valid: true},
		TotalSpent:    sql.NullFloat64{Float64: spent, Valid: true},
	}
}

func testServer(t *testing.T, source *stubSource, store *stubStore) (*httptest.Server, *Handlers) {
	t.Helper()
	segmenter, err := segmentation.NewSegmenter(4, []string{"VIP", "Loyal", "Occasional", "Dormant"}, 42, 10, 100)
	require.NoError(t, err)
	gate := segmentation.NewGate(source, store, 50)
	orch := segmentation.NewOrchestrator(source, store, segmenter, gate,
		func() distlock.DistLock { return &stubLock{} }, time.Minute)

	h := NewHandlers(orch, store)
	srv := httptest.NewServer(SetupRoutes(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func defaultRows() []segmentation.AggregateRow {
	return []segmentation.AggregateRow{
		sourceRow("cust-a", 1, 20, 5000),
		sourceRow("cust-b", 5, 15, 3000),
		sourceRow("cust-c", 10, 5, 800),
		sourceRow("cust-d", 50, 2, 200),
		sourceRow("cust-e", 200, 1, 50),
	}
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthCheck(t *testing.T) {
	srv, _ := testServer(t, &stubSource{}, newStubStore())

	var body map[string]string
	code := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "rfm-segmentation", body["service"])
}

func TestRunSegmentation(t *testing.T) {
	srv, _ := testServer(t, &stubSource{rows: defaultRows()}, newStubStore())

	var summary segmentation.RunSummary
	code := postJSON(t, srv.URL+"/api/segmentation/run", &summary)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, summary.Success)
	assert.Equal(t, 5, summary.RecordsSaved)
	assert.NotEmpty(t, summary.VersionID)
}

func TestRunSegmentation_GateSkipIsStillOK(t *testing.T) {
	source := &stubSource{rows: defaultRows(), countSince: 5}
	store := newStubStore()
	store.latest = &segmentation.Version{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	srv, _ := testServer(t, source, store)

	var summary segmentation.RunSummary
	code := postJSON(t, srv.URL+"/api/segmentation/run", &summary)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, summary.Success)
	assert.Contains(t, summary.Reason, "only 5 new qualifying transactions")

	// force=true bypasses the gate.
	code = postJSON(t, srv.URL+"/api/segmentation/run?force=true", &summary)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, summary.Success)
}

func TestGetCustomerSegment(t *testing.T) {
	source := &stubSource{rows: defaultRows()}
	store := newStubStore()
	srv, _ := testServer(t, source, store)

	var summary segmentation.RunSummary
	code := postJSON(t, srv.URL+"/api/segmentation/run", &summary)
	require.Equal(t, http.StatusOK, code)

	var body struct {
		Success bool                            `json:"success"`
		Data    *segmentation.SegmentAssignment `json:"data"`
	}
	code = getJSON(t, srv.URL+"/api/customer/segment/cust-a", &body)
	assert.Equal(t, http.StatusOK, code)
	require.True(t, body.Success)
	require.NotNil(t, body.Data)
	assert.Equal(t, "VIP", body.Data.SegmentLabel)

	// Pinned to an explicit version.
	code = getJSON(t, srv.URL+"/api/customer/segment/cust-e?version="+summary.VersionID, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Dormant", body.Data.SegmentLabel)
}

func TestGetCustomerSegment_UnknownCustomer(t *testing.T) {
	srv, _ := testServer(t, &stubSource{}, newStubStore())

	var body map[string]interface{}
	code := getJSON(t, srv.URL+"/api/customer/segment/nobody", &body)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "customer not found", body["message"])
}

func TestGetCustomerSegment_BadVersionID(t *testing.T) {
	srv, _ := testServer(t, &stubSource{}, newStubStore())

	var body map[string]interface{}
	code := getJSON(t, srv.URL+"/api/customer/segment/cust-a?version=not-a-uuid", &body)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatus(t *testing.T) {
	source := &stubSource{rows: defaultRows()}
	store := newStubStore()
	srv, _ := testServer(t, source, store)

	// Before the first run the status shows no last run.
	var status struct {
		Success        bool           `json:"success"`
		LastRun        *time.Time     `json:"last_run"`
		SegmentsCount  map[string]int `json:"segments_count"`
		TotalCustomers int            `json:"total_customers"`
	}
	code := getJSON(t, srv.URL+"/api/segmentation/status", &status)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, status.Success)
	assert.Nil(t, status.LastRun)
	assert.Zero(t, status.TotalCustomers)

	var summary segmentation.RunSummary
	code = postJSON(t, srv.URL+"/api/segmentation/run", &summary)
	require.Equal(t, http.StatusOK, code)

	code = getJSON(t, srv.URL+"/api/segmentation/status", &status)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, 5, status.TotalCustomers)

	total := 0
	for _, c := range status.SegmentsCount {
		total += c
	}
	assert.Equal(t, 5, total)
}

func TestStatus_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	source := &stubSource{rows: defaultRows()}
	store := newStubStore()
	srv, h := testServer(t, source, store)
	h.SetStatusCache(client, 30*time.Second)

	var status map[string]interface{}
	code := getJSON(t, srv.URL+"/api/segmentation/status", &status)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, mr.Exists(statusCacheKey))

	// A committed run invalidates the cached snapshot.
	var summary segmentation.RunSummary
	code = postJSON(t, srv.URL+"/api/segmentation/run", &summary)
	require.Equal(t, http.StatusOK, code)
	require.True(t, summary.Success)
	assert.False(t, mr.Exists(statusCacheKey))
}

func TestCheckNewData(t *testing.T) {
	source := &stubSource{countSince: 73}
	store := newStubStore()
	store.latest = &segmentation.Version{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	srv, _ := testServer(t, source, store)

	var body struct {
		NewRecordCount int  `json:"new_record_count"`
		ShouldRun      bool `json:"should_run"`
	}
	code := getJSON(t, srv.URL+"/api/segmentation/check", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 73, body.NewRecordCount)
	assert.True(t, body.ShouldRun)
}
