package shipments_api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/auth"
	"github.com/packlane/packlane/internal/models"
	"github.com/packlane/packlane/internal/services/shipments"
)

type ShipmentsAPI struct {
	svc *shipments.Service
}

func New(svc *shipments.Service) *ShipmentsAPI {
	return &ShipmentsAPI{svc: svc}
}

// Routes mounts the shipment endpoints. The identity middleware must already
// be installed on the router; /track and /pubsub stay unauthenticated.
func (a *ShipmentsAPI) Routes(r chi.Router) {
	r.Get("/track/{code}", a.track)
	r.Post("/pubsub/push", a.push)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireIdentity)
		r.Post("/create", a.create)
		r.Get("/", a.list)
		r.Get("/{id}", a.get)
	})
}

type createRequest struct {
	Sender           string     `json:"sender"`
	Receiver         string     `json:"receiver"`
	ReceiverStreet   string     `json:"receiverStreet"`
	ReceiverCity     string     `json:"receiverCity"`
	ExpectedDelivery *time.Time `json:"expectedDelivery"`

	// Optional carrier link: when both are set the carrier feed polls the
	// upstream carrier for this shipment.
	CarrierCode string `json:"carrierCode"`
	CarrierRef  string `json:"carrierRef"`
}

func (a *ShipmentsAPI) create(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sh, cps, err := a.svc.Create(r.Context(), models.ShipmentCreateInput{
		Sender:           req.Sender,
		Receiver:         req.Receiver,
		ReceiverStreet:   req.ReceiverStreet,
		ReceiverCity:     req.ReceiverCity,
		ExpectedDelivery: req.ExpectedDelivery,
		CarrierCode:      req.CarrierCode,
		CarrierRef:       req.CarrierRef,
	}, *id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/"+sh.ID.String())
	writeJSON(w, http.StatusCreated, toShipmentView(sh, cps))
}

func (a *ShipmentsAPI) get(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	shipmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid shipment id", http.StatusBadRequest)
		return
	}

	sh, cps, err := a.svc.Get(r.Context(), shipmentID, *id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentView(sh, cps))
}

func (a *ShipmentsAPI) list(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	shs, err := a.svc.ListForOwner(r.Context(), *id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentSummaries(shs))
}

func (a *ShipmentsAPI) track(w http.ResponseWriter, r *http.Request) {
	sh, cps, err := a.svc.GetByTrackingCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicTrackingView(sh, cps))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "err", err)
	}
}

// writeError maps error kinds to status codes. NotFound vs Forbidden stays
// distinguishable, matching the upstream contract.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, models.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
