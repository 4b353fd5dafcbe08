package messages

import (
	"time"

	"github.com/google/uuid"
)

// TrackingUpdate is the wire payload between the tracking ingest edge and
// the shipment consumer. It is transient: decoded, applied, discarded.
type TrackingUpdate struct {
	ShipmentID uuid.UUID `json:"shipment_id"`

	Status  string `json:"status"`
	Message string `json:"message,omitempty"`

	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`

	// Event time, resolved by the producer (processing time when the
	// report carried none). Consumers fall back to their own clock if zero.
	Timestamp time.Time `json:"timestamp"`
}
