package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known shipment statuses. The status token itself is free-form:
// stations may send anything, last committed writer wins.
const (
	ShipmentStatusCreated   = "CREATED"
	ShipmentStatusInTransit = "IN_TRANSIT"
	ShipmentStatusDelivered = "DELIVERED"
)

type Shipment struct {
	ID           uuid.UUID
	TrackingCode string

	OwnerUserID    string
	OwnerCompanyID string

	Sender         string
	Receiver       string
	ReceiverStreet string
	ReceiverCity   string

	CurrentStatus    string
	ExpectedDelivery *time.Time

	LastLat *float64
	LastLng *float64

	// Optional link to an external carrier. Shipments that carry both
	// fields are picked up by the carrier feed poller.
	CarrierCode *string
	CarrierRef  *string

	NextPollAt    *time.Time
	LastPollAt    *time.Time
	PollFailCount int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Checkpoint is one append-only history entry. Timestamp is event time,
// CreatedAt is when the row was written.
type Checkpoint struct {
	ID         uint64
	ShipmentID uuid.UUID
	Timestamp  time.Time
	Status     string
	Message    string
	Lat        *float64
	Lng        *float64
	CreatedAt  time.Time
}

type ShipmentCreateInput struct {
	Sender           string
	Receiver         string
	ReceiverStreet   string
	ReceiverCity     string
	ExpectedDelivery *time.Time

	CarrierCode string
	CarrierRef  string
}
