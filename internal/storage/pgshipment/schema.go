package pgshipment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id UUID PRIMARY KEY,
  tracking_code TEXT NOT NULL,
  owner_user_id TEXT NOT NULL DEFAULT '',
  owner_company_id TEXT NOT NULL DEFAULT '',
  sender TEXT NOT NULL,
  receiver TEXT NOT NULL,
  receiver_street TEXT NOT NULL DEFAULT '',
  receiver_city TEXT NOT NULL DEFAULT '',
  current_status TEXT NOT NULL,
  expected_delivery TIMESTAMPTZ NULL,
  last_lat DOUBLE PRECISION NULL,
  last_lng DOUBLE PRECISION NULL,
  carrier_code TEXT NULL,
  carrier_ref TEXT NULL,
  next_poll_at TIMESTAMPTZ NULL,
  last_poll_at TIMESTAMPTZ NULL,
  poll_fail_count INT NOT NULL DEFAULT 0,
  last_poll_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_code)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_owner_user_id ON shipments(owner_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_poll_at ON shipments(next_poll_at) WHERE carrier_code IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS checkpoints (
  id BIGSERIAL PRIMARY KEY,
  shipment_id UUID NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  ts TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION NULL,
  lng DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_shipment_id_ts ON checkpoints(shipment_id, ts ASC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
