package pgshipment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/models"
)

// ShipmentUpdate is one applied tracking event: a shipment mutation plus an
// appended checkpoint, committed atomically.
type ShipmentUpdate struct {
	ShipmentID uuid.UUID

	Status  string
	Message string

	Lat *float64
	Lng *float64

	// Event time for the checkpoint row. updated_at is always processing time.
	Timestamp time.Time
}

func (s *Storage) ListCheckpoints(ctx context.Context, shipmentID uuid.UUID) ([]*models.Checkpoint, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, ts, status, message, lat, lng, created_at
FROM checkpoints
WHERE shipment_id = $1
ORDER BY ts ASC, id ASC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select checkpoints")
	}
	defer rows.Close()

	out := []*models.Checkpoint{}
	for rows.Next() {
		var c models.Checkpoint
		var lat, lng *float64
		if err := rows.Scan(
			&c.ID, &c.ShipmentID, &c.Timestamp, &c.Status, &c.Message,
			&lat, &lng, &c.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan checkpoint")
		}
		c.Lat = lat
		c.Lng = lng
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ApplyShipmentUpdate commits one tracking event: status, position and
// updated_at on the shipment row plus a new checkpoint, all in one
// transaction. The row lock serializes concurrent applies for the same
// shipment, so "last committed wins" for current_status. Redelivered events
// are applied again and produce duplicate checkpoints; callers that need
// strict idempotence must de-duplicate upstream.
func (s *Storage) ApplyShipmentUpdate(ctx context.Context, upd ShipmentUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM shipments WHERE id = $1 FOR UPDATE`, upd.ShipmentID).Scan(&id)
	if err == pgx.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock shipment")
	}

	if upd.Lat != nil && upd.Lng != nil {
		_, err = tx.Exec(ctx, `
UPDATE shipments
SET current_status = $2, last_lat = $3, last_lng = $4, updated_at = now()
WHERE id = $1
`, upd.ShipmentID, upd.Status, *upd.Lat, *upd.Lng)
	} else {
		_, err = tx.Exec(ctx, `
UPDATE shipments
SET current_status = $2, updated_at = now()
WHERE id = $1
`, upd.ShipmentID, upd.Status)
	}
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO checkpoints (shipment_id, ts, status, message, lat, lng, created_at)
VALUES ($1,$2,$3,$4,$5,$6, now())
`, upd.ShipmentID, upd.Timestamp.UTC(), upd.Status, upd.Message, upd.Lat, upd.Lng)
	if err != nil {
		return errors.Wrap(err, "insert checkpoint")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
