package pgshipment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/models"
)

const (
	uniqueViolationCode = "23505"
	createAttempts      = 5

	createdCheckpointMessage = "Shipment created"
)

const shipmentColumns = `
  id, tracking_code, owner_user_id, owner_company_id,
  sender, receiver, receiver_street, receiver_city,
  current_status, expected_delivery,
  last_lat, last_lng,
  carrier_code, carrier_ref,
  next_poll_at, last_poll_at, poll_fail_count,
  created_at, updated_at`

// CreateShipment persists a new shipment and its initial CREATED checkpoint
// in one transaction. Tracking code generation is retried on a uniqueness
// conflict so the caller never sees the collision.
func (s *Storage) CreateShipment(ctx context.Context, in models.ShipmentCreateInput, ownerUserID, ownerCompanyID string) (*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh := &models.Shipment{
		ID:               uuid.New(),
		OwnerUserID:      ownerUserID,
		OwnerCompanyID:   ownerCompanyID,
		Sender:           in.Sender,
		Receiver:         in.Receiver,
		ReceiverStreet:   in.ReceiverStreet,
		ReceiverCity:     in.ReceiverCity,
		CurrentStatus:    models.ShipmentStatusCreated,
		ExpectedDelivery: in.ExpectedDelivery,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	// A carrier-linked shipment is due for its first poll immediately.
	if in.CarrierCode != "" && in.CarrierRef != "" {
		cc, cr := in.CarrierCode, in.CarrierRef
		sh.CarrierCode = &cc
		sh.CarrierRef = &cr
		firstPoll := now
		sh.NextPollAt = &firstPoll
	}

	for attempt := 0; ; attempt++ {
		code, err := generateTrackingCode()
		if err != nil {
			return nil, err
		}
		sh.TrackingCode = code

		_, err = tx.Exec(ctx, `
INSERT INTO shipments (
  id, tracking_code, owner_user_id, owner_company_id,
  sender, receiver, receiver_street, receiver_city,
  current_status, expected_delivery,
  carrier_code, carrier_ref, next_poll_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
`, sh.ID, sh.TrackingCode, sh.OwnerUserID, sh.OwnerCompanyID,
			sh.Sender, sh.Receiver, sh.ReceiverStreet, sh.ReceiverCity,
			sh.CurrentStatus, sh.ExpectedDelivery,
			sh.CarrierCode, sh.CarrierRef, sh.NextPollAt, now)
		if err == nil {
			break
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode && attempt < createAttempts-1 {
			continue
		}
		return nil, errors.Wrap(err, "insert shipment")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO checkpoints (shipment_id, ts, status, message, created_at)
VALUES ($1,$2,$3,$4,$2)
`, sh.ID, now, models.ShipmentStatusCreated, createdCheckpointMessage)
	if err != nil {
		return nil, errors.Wrap(err, "insert initial checkpoint")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	sh, err := scanShipment(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByTrackingCode(ctx context.Context, code string) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE tracking_code = $1`, code)
	sh, err := scanShipment(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking code")
	}
	return sh, nil
}

func (s *Storage) ListShipmentsByOwner(ctx context.Context, ownerUserID string) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE owner_user_id = $1
ORDER BY created_at ASC, id ASC
`, ownerUserID)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments by owner")
	}
	defer rows.Close()

	out := []*models.Shipment{}
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	if err := row.Scan(
		&sh.ID, &sh.TrackingCode, &sh.OwnerUserID, &sh.OwnerCompanyID,
		&sh.Sender, &sh.Receiver, &sh.ReceiverStreet, &sh.ReceiverCity,
		&sh.CurrentStatus, &sh.ExpectedDelivery,
		&sh.LastLat, &sh.LastLng,
		&sh.CarrierCode, &sh.CarrierRef,
		&sh.NextPollAt, &sh.LastPollAt, &sh.PollFailCount,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sh, nil
}
