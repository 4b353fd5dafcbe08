package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/auth"
	"github.com/packlane/packlane/internal/broker/messages"
	"github.com/packlane/packlane/internal/cache"
	"github.com/packlane/packlane/internal/models"
	"github.com/packlane/packlane/internal/storage/pgshipment"
)

type Repository interface {
	CreateShipment(ctx context.Context, in models.ShipmentCreateInput, ownerUserID, ownerCompanyID string) (*models.Shipment, error)
	GetShipmentByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	GetShipmentByTrackingCode(ctx context.Context, code string) (*models.Shipment, error)
	ListShipmentsByOwner(ctx context.Context, ownerUserID string) ([]*models.Shipment, error)
	ListCheckpoints(ctx context.Context, shipmentID uuid.UUID) ([]*models.Checkpoint, error)
	ApplyShipmentUpdate(ctx context.Context, upd pgshipment.ShipmentUpdate) error
}

type Service struct {
	repo      Repository
	policy    auth.Policy
	cache     cache.BytesCache
	publicTTL time.Duration
}

func New(repo Repository, policy auth.Policy, c cache.BytesCache, publicTTL time.Duration) *Service {
	return &Service{repo: repo, policy: policy, cache: c, publicTTL: publicTTL}
}

func (s *Service) Create(ctx context.Context, in models.ShipmentCreateInput, id auth.Identity) (*models.Shipment, []*models.Checkpoint, error) {
	if in.Sender == "" {
		return nil, nil, errors.Wrap(models.ErrInvalidArgument, "sender is required")
	}
	if in.Receiver == "" {
		return nil, nil, errors.Wrap(models.ErrInvalidArgument, "receiver is required")
	}
	if (in.CarrierCode == "") != (in.CarrierRef == "") {
		return nil, nil, errors.Wrap(models.ErrInvalidArgument, "carrier_code and carrier_ref go together")
	}

	sh, err := s.repo.CreateShipment(ctx, in, id.SubjectID, id.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	cps, err := s.repo.ListCheckpoints(ctx, sh.ID)
	if err != nil {
		return nil, nil, err
	}
	return sh, cps, nil
}

// Get fetches a shipment with its full history for an authorized viewer.
// Absence is reported before the access check, so an unknown id is NotFound
// for everyone.
func (s *Service) Get(ctx context.Context, shipmentID uuid.UUID, id auth.Identity) (*models.Shipment, []*models.Checkpoint, error) {
	sh, err := s.repo.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return nil, nil, err
	}
	if !s.policy.CanView(id, sh) {
		return nil, nil, models.ErrForbidden
	}
	cps, err := s.repo.ListCheckpoints(ctx, sh.ID)
	if err != nil {
		return nil, nil, err
	}
	return sh, cps, nil
}

func (s *Service) ListForOwner(ctx context.Context, id auth.Identity) ([]*models.Shipment, error) {
	return s.repo.ListShipmentsByOwner(ctx, id.SubjectID)
}

type publicEntry struct {
	Shipment    *models.Shipment     `json:"shipment"`
	Checkpoints []*models.Checkpoint `json:"checkpoints"`
}

// GetByTrackingCode is the unauthenticated lookup. The result is cached
// best-effort: a cache failure never fails the request.
func (s *Service) GetByTrackingCode(ctx context.Context, code string) (*models.Shipment, []*models.Checkpoint, error) {
	if s.cache != nil && s.publicTTL > 0 {
		b, ok, err := s.cache.Get(ctx, publicKey(code))
		if err == nil && ok {
			var e publicEntry
			if json.Unmarshal(b, &e) == nil && e.Shipment != nil {
				return e.Shipment, e.Checkpoints, nil
			}
		}
	}

	sh, err := s.repo.GetShipmentByTrackingCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	cps, err := s.repo.ListCheckpoints(ctx, sh.ID)
	if err != nil {
		return nil, nil, err
	}

	if s.cache != nil && s.publicTTL > 0 {
		b, _ := json.Marshal(publicEntry{Shipment: sh, Checkpoints: cps})
		_ = s.cache.Set(ctx, publicKey(code), b, s.publicTTL)
	}
	return sh, cps, nil
}

// ApplyUpdate is the consumer-facing mutation. Error kinds drive delivery
// semantics: ErrInvalidArgument marks a poison message (drop), ErrNotFound a
// race with creation (retry via redelivery), anything else is transient.
func (s *Service) ApplyUpdate(ctx context.Context, msg messages.TrackingUpdate) error {
	if msg.ShipmentID == uuid.Nil {
		return errors.Wrap(models.ErrInvalidArgument, "shipment_id is required")
	}
	if (msg.Lat == nil) != (msg.Lng == nil) {
		return errors.Wrap(models.ErrInvalidArgument, "partial lat/lng pair")
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	err := s.repo.ApplyShipmentUpdate(ctx, pgshipment.ShipmentUpdate{
		ShipmentID: msg.ShipmentID,
		Status:     msg.Status,
		Message:    msg.Message,
		Lat:        msg.Lat,
		Lng:        msg.Lng,
		Timestamp:  ts,
	})
	if err != nil {
		return err
	}

	// Drop the cached public view so the next lookup sees the new state.
	if s.cache != nil && s.publicTTL > 0 {
		sh, err := s.repo.GetShipmentByID(ctx, msg.ShipmentID)
		if err == nil {
			if err := s.cache.Del(ctx, publicKey(sh.TrackingCode)); err != nil {
				slog.Warn("public tracking cache invalidation failed",
					"shipment_id", msg.ShipmentID, "err", err)
			}
		}
	}
	return nil
}

func publicKey(code string) string {
	return fmt.Sprintf("shipment:%s:public", code)
}
