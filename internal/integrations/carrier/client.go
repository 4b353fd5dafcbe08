package carrier

import (
	"context"
	"time"
)

// Event is one carrier-side checkpoint as reported by the upstream feed.
type Event struct {
	Status    string
	Message   string
	Lat       *float64
	Lng       *float64
	Timestamp time.Time
}

// Result is the carrier's current view of one shipment: the latest status
// plus the full event history the carrier knows about.
type Result struct {
	Status string
	Events []Event
}

type Client interface {
	GetTracking(ctx context.Context, carrierCode, carrierRef string) (Result, error)
}
