package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/packlane/packlane/internal/integrations/carrier"
	"github.com/packlane/packlane/internal/models"
)

// Client is a stand-in carrier for local runs without the emulator.
// Status is deterministic per (carrier, ref): a fixed share of refs comes
// back DELIVERED, the rest stays IN_TRANSIT.
type Client struct{}

func New() *Client { return &Client{} }

func (f *Client) GetTracking(ctx context.Context, carrierCode, carrierRef string) (carrier.Result, error) {
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(carrierCode))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(carrierRef))
	v := h.Sum32()

	status := models.ShipmentStatusInTransit
	if v%5 == 0 {
		status = models.ShipmentStatusDelivered
	}

	return carrier.Result{
		Status: status,
		Events: []carrier.Event{
			{Status: status, Message: "fake carrier update", Timestamp: now},
		},
	}, nil
}
