package trackings_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/models"
	"github.com/packlane/packlane/internal/services/trackingingest"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type TrackingsAPI struct {
	svc *trackingingest.Service

	rl      RateLimiter
	rlLimit int64
}

func New(svc *trackingingest.Service) *TrackingsAPI {
	return &TrackingsAPI{svc: svc}
}

// WithRateLimiter enables per-client rate limiting on /update.
func (a *TrackingsAPI) WithRateLimiter(rl RateLimiter, perMinute int64) *TrackingsAPI {
	if rl != nil && perMinute > 0 {
		a.rl = rl
		a.rlLimit = perMinute
	}
	return a
}

func (a *TrackingsAPI) Routes(r chi.Router) {
	r.Post("/update", a.update)
	r.Get("/health", a.health)
}

type trackingUpdateDto struct {
	ShipmentID uuid.UUID  `json:"shipment_id"`
	Status     string     `json:"status"`
	Message    string     `json:"message"`
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	Timestamp  *time.Time `json:"timestamp"`
}

func (a *TrackingsAPI) update(w http.ResponseWriter, r *http.Request) {
	if a.rl != nil {
		key := "ingest:" + clientKey(r)
		ok, n, err := a.rl.Allow(r.Context(), key, a.rlLimit, time.Minute)
		if err != nil {
			// Limiter outage must not block ingestion.
			slog.Warn("rate limiter unavailable", "err", err)
		} else if !ok {
			slog.Warn("tracking update rate limited", "key", key, "count", n)
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
	}

	var dto trackingUpdateDto
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := a.svc.Submit(r.Context(), trackingingest.Report{
		ShipmentID: dto.ShipmentID,
		Status:     dto.Status,
		Message:    dto.Message,
		Lat:        dto.Lat,
		Lng:        dto.Lng,
		Timestamp:  dto.Timestamp,
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("tracking update failed", "shipment_id", dto.ShipmentID, "err", err)
		http.Error(w, "failed to process tracking update", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Tracking update received"))
}

func (a *TrackingsAPI) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// clientKey picks the rate-limit bucket: the gateway-verified user when
// present, the remote address otherwise.
func clientKey(r *http.Request) string {
	if uid := r.Header.Get("X-Auth-User-Id"); uid != "" {
		return uid
	}
	return r.RemoteAddr
}
