package trackingingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/broker/messages"
	"github.com/packlane/packlane/internal/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Report is an inbound tracking report from a station, not yet normalized.
type Report struct {
	ShipmentID uuid.UUID
	Status     string
	Message    string
	Lat        *float64
	Lng        *float64
	Timestamp  *time.Time
}

type Service struct {
	producer Producer
	topic    string
}

func New(producer Producer, topic string) *Service {
	return &Service{producer: producer, topic: topic}
}

// Submit validates the report, resolves its event time and publishes the
// normalized event keyed by shipment id, so all events for one shipment
// stay ordered within their partition. A publish failure propagates to the
// caller as retryable.
func (s *Service) Submit(ctx context.Context, rep Report) error {
	if rep.ShipmentID == uuid.Nil {
		return errors.Wrap(models.ErrInvalidArgument, "shipment_id is required")
	}
	if (rep.Lat == nil) != (rep.Lng == nil) {
		return errors.Wrap(models.ErrInvalidArgument, "partial lat/lng pair")
	}

	ts := time.Now().UTC()
	if rep.Timestamp != nil {
		ts = rep.Timestamp.UTC()
	}

	msg := messages.TrackingUpdate{
		ShipmentID: rep.ShipmentID,
		Status:     rep.Status,
		Message:    rep.Message,
		Lat:        rep.Lat,
		Lng:        rep.Lng,
		Timestamp:  ts,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal tracking update")
	}

	if err := s.producer.Publish(ctx, s.topic, []byte(rep.ShipmentID.String()), value); err != nil {
		return err
	}

	slog.Info("tracking update published", "shipment_id", rep.ShipmentID, "status", rep.Status)
	return nil
}
