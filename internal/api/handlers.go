// Package api exposes the segmentation pipeline over HTTP. The four
// operations here are the complete downstream contract: run, per-customer
// lookup, status and new-data check.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
	"github.com/ignite/rfm-segmenter/internal/segmentation"
)

const statusCacheKey = "segmentation:status"

// Handlers contains all HTTP handlers
type Handlers struct {
	orchestrator *segmentation.Orchestrator
	store        segmentation.AssignmentStore
	cache        *redis.Client
	cacheTTL     time.Duration
}

// NewHandlers creates a new Handlers instance. cache may be nil; status
// responses are then computed on every request.
func NewHandlers(orchestrator *segmentation.Orchestrator, store segmentation.AssignmentStore) *Handlers {
	return &Handlers{orchestrator: orchestrator, store: store}
}

// SetStatusCache enables Redis caching of status responses.
func (h *Handlers) SetStatusCache(client *redis.Client, ttl time.Duration) {
	h.cache = client
	h.cacheTTL = ttl
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "rfm-segmentation",
	})
}

// HandleRunSegmentation triggers one segmentation run. ?force=true bypasses
// the recompute gate. Gate skips and the empty dataset come back as 200 with
// success=false/true respectively; faults map to 5xx.
func (h *Handlers) HandleRunSegmentation(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	summary, err := h.orchestrator.Run(r.Context(), force)
	if err != nil {
		respondJSON(w, faultStatus(err), summary)
		return
	}

	if summary.Success && summary.VersionID != "" {
		h.invalidateStatusCache(r.Context())
	}
	respondJSON(w, http.StatusOK, summary)
}

// HandleGetCustomerSegment returns a customer's assignment from the latest
// version, or from ?version= when given. A miss is 404, not a fault.
func (h *Handlers) HandleGetCustomerSegment(w http.ResponseWriter, r *http.Request) {
	customerID := segmentation.ParseCustomerID(chi.URLParam(r, "customerID"))
	if customerID == "" {
		respondError(w, http.StatusBadRequest, "customer id is required")
		return
	}

	var assignment *segmentation.SegmentAssignment
	var err error
	if v := r.URL.Query().Get("version"); v != "" {
		versionID, parseErr := uuid.Parse(v)
		if parseErr != nil {
			respondError(w, http.StatusBadRequest, "invalid version id")
			return
		}
		assignment, err = h.store.GetAssignment(r.Context(), customerID, versionID)
	} else {
		assignment, err = h.store.GetLatestAssignment(r.Context(), customerID)
	}
	if err != nil {
		logger.Error("customer segment lookup failed", "customer_id", customerID.String(), "error", err.Error())
		respondError(w, faultStatus(err), err.Error())
		return
	}
	if assignment == nil {
		respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "customer not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    assignment,
	})
}

// statusResponse is the body of the status endpoint, latest version only.
type statusResponse struct {
	Success        bool           `json:"success"`
	LastRun        *time.Time     `json:"last_run"`
	SegmentsCount  map[string]int `json:"segments_count"`
	TotalCustomers int            `json:"total_customers"`
}

// HandleStatus reports the latest run's timestamp and segment distribution.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if cached := h.cachedStatus(r.Context()); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}

	version, err := h.store.LatestVersion(r.Context())
	if err != nil {
		respondError(w, faultStatus(err), err.Error())
		return
	}

	resp := statusResponse{Success: true, SegmentsCount: map[string]int{}}
	if version != nil {
		counts, err := h.store.Distribution(r.Context(), version.ID)
		if err != nil {
			respondError(w, faultStatus(err), err.Error())
			return
		}
		total := 0
		for _, c := range counts {
			total += c
		}
		resp.LastRun = &version.CreatedAt
		resp.SegmentsCount = counts
		resp.TotalCustomers = total
	}

	h.storeStatusCache(r.Context(), resp)
	respondJSON(w, http.StatusOK, resp)
}

// HandleCheckNewData reports how many qualifying transactions arrived since
// the last version and whether the gate would let a run proceed.
func (h *Handlers) HandleCheckNewData(w http.ResponseWriter, r *http.Request) {
	count, shouldRun, err := h.orchestrator.CheckNewData(r.Context())
	if err != nil {
		respondError(w, faultStatus(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"new_record_count": count,
		"should_run":       shouldRun,
	})
}

// ==========================================
// HELPERS
// ==========================================

func (h *Handlers) cachedStatus(ctx context.Context) []byte {
	if h.cache == nil {
		return nil
	}
	data, err := h.cache.Get(ctx, statusCacheKey).Bytes()
	if err != nil {
		return nil
	}
	return data
}

func (h *Handlers) storeStatusCache(ctx context.Context, resp statusResponse) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, statusCacheKey, data, h.cacheTTL).Err(); err != nil {
		logger.Debug("status cache write failed", "error", err.Error())
	}
}

func (h *Handlers) invalidateStatusCache(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Del(ctx, statusCacheKey).Err(); err != nil {
		logger.Debug("status cache invalidation failed", "error", err.Error())
	}
}

// faultStatus maps the error taxonomy onto HTTP status codes: connectivity
// faults are 502 (the dependency is down, not this service), everything else
// is 500.
func faultStatus(err error) int {
	var connErr *segmentation.ConnectivityError
	if errors.As(err, &connErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
