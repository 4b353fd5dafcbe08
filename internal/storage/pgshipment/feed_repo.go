package pgshipment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/models"
)

// ClaimDueCarrierShipments picks a batch of carrier-linked shipments whose
// poll is due and leases them by pushing next_poll_at forward, so concurrent
// pollers never grab the same rows. Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueCarrierShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE carrier_code IS NOT NULL
  AND next_poll_at IS NOT NULL
  AND next_poll_at <= $1
  AND current_status <> $2
ORDER BY next_poll_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.ShipmentStatusDelivered, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}

	claimed := []*models.Shipment{}
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan shipment")
		}
		claimed = append(claimed, sh)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sh := range claimed {
		if _, err := tx.Exec(ctx,
			`UPDATE shipments SET next_poll_at = $2 WHERE id = $1`,
			sh.ID, leaseUntil,
		); err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		t := leaseUntil
		sh.NextPollAt = &t
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return claimed, nil
}

// RecordPollSuccess stores the poll watermark and the next scheduled poll,
// resetting the failure counter.
func (s *Storage) RecordPollSuccess(ctx context.Context, shipmentID uuid.UUID, polledAt, nextPollAt time.Time) error {
	ct, err := s.db.Exec(ctx, `
UPDATE shipments
SET last_poll_at = $2,
    next_poll_at = $3,
    poll_fail_count = 0,
    last_poll_error = NULL
WHERE id = $1
`, shipmentID, polledAt.UTC(), nextPollAt.UTC())
	if err != nil {
		return errors.Wrap(err, "record poll success")
	}
	if ct.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordPollFailure bumps the failure counter and schedules the retry.
func (s *Storage) RecordPollFailure(ctx context.Context, shipmentID uuid.UUID, nextPollAt time.Time, pollErr string) error {
	ct, err := s.db.Exec(ctx, `
UPDATE shipments
SET next_poll_at = $2,
    poll_fail_count = poll_fail_count + 1,
    last_poll_error = $3
WHERE id = $1
`, shipmentID, nextPollAt.UTC(), pollErr)
	if err != nil {
		return errors.Wrap(err, "record poll failure")
	}
	if ct.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
