package pgshipment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/packlane/packlane/internal/models"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "packlane_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/packlane_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGShipment_RepoFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	created, err := st.CreateShipment(ctx, models.ShipmentCreateInput{
		Sender:   "Alice",
		Receiver: "Bob",
	}, "user-1", "acme")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	require.True(t, strings.HasPrefix(created.TrackingCode, "PKG-"))
	require.Len(t, created.TrackingCode, 12)
	require.Equal(t, models.ShipmentStatusCreated, created.CurrentStatus)

	got, err := st.GetShipmentByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.TrackingCode, got.TrackingCode)
	require.Equal(t, "user-1", got.OwnerUserID)

	byCode, err := st.GetShipmentByTrackingCode(ctx, created.TrackingCode)
	require.NoError(t, err)
	require.Equal(t, created.ID, byCode.ID)

	// Initial CREATED checkpoint written in the same transaction.
	cps, err := st.ListCheckpoints(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	require.Equal(t, models.ShipmentStatusCreated, cps[0].Status)
	require.WithinDuration(t, created.CreatedAt, cps[0].Timestamp, 2*time.Second)

	listed, err := st.ListShipmentsByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	empty, err := st.ListShipmentsByOwner(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = st.GetShipmentByID(ctx, uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = st.GetShipmentByTrackingCode(ctx, "PKG-NOPENOPE")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPGShipment_ApplyShipmentUpdate(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	created, err := st.CreateShipment(ctx, models.ShipmentCreateInput{
		Sender:   "Alice",
		Receiver: "Bob",
	}, "user-1", "")
	require.NoError(t, err)

	lat, lng := 50.0, 8.0
	eventTime := time.Now().UTC().Add(-10 * time.Minute)
	upd := ShipmentUpdate{
		ShipmentID: created.ID,
		Status:     models.ShipmentStatusInTransit,
		Message:    "Departed facility",
		Lat:        &lat,
		Lng:        &lng,
		Timestamp:  eventTime,
	}
	require.NoError(t, st.ApplyShipmentUpdate(ctx, upd))

	got, err := st.GetShipmentByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusInTransit, got.CurrentStatus)
	require.NotNil(t, got.LastLat)
	require.Equal(t, 50.0, *got.LastLat)
	require.Equal(t, 8.0, *got.LastLng)
	require.False(t, got.UpdatedAt.Before(created.UpdatedAt))

	// Redelivery of the identical event is applied again: duplicate
	// checkpoint, same current state.
	require.NoError(t, st.ApplyShipmentUpdate(ctx, upd))

	cps, err := st.ListCheckpoints(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	// History is ordered by event time, not arrival order: the two
	// IN_TRANSIT events carry an earlier timestamp than CREATED.
	require.Equal(t, models.ShipmentStatusInTransit, cps[0].Status)
	require.Equal(t, models.ShipmentStatusInTransit, cps[1].Status)
	require.Equal(t, models.ShipmentStatusCreated, cps[2].Status)

	// Update without a position keeps the last known position.
	require.NoError(t, st.ApplyShipmentUpdate(ctx, ShipmentUpdate{
		ShipmentID: created.ID,
		Status:     models.ShipmentStatusDelivered,
		Message:    "Delivered",
		Timestamp:  time.Now().UTC(),
	}))
	got, err = st.GetShipmentByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusDelivered, got.CurrentStatus)
	require.NotNil(t, got.LastLat)

	// Unknown shipment is a NotFound, nothing written.
	err = st.ApplyShipmentUpdate(ctx, ShipmentUpdate{
		ShipmentID: uuid.New(),
		Status:     models.ShipmentStatusInTransit,
		Timestamp:  time.Now().UTC(),
	})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPGShipment_CarrierFeedSchedule(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	linked, err := st.CreateShipment(ctx, models.ShipmentCreateInput{
		Sender:      "Alice",
		Receiver:    "Bob",
		CarrierCode: "DHL",
		CarrierRef:  "JD014600003RU",
	}, "user-1", "")
	require.NoError(t, err)
	require.NotNil(t, linked.CarrierCode)
	require.NotNil(t, linked.NextPollAt)

	// Plain shipments never show up in the feed.
	_, err = st.CreateShipment(ctx, models.ShipmentCreateInput{
		Sender:   "Alice",
		Receiver: "Carol",
	}, "user-1", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	lease := 10 * time.Second
	claimed, err := st.ClaimDueCarrierShipments(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, linked.ID, claimed[0].ID)
	require.NotNil(t, claimed[0].NextPollAt)
	require.WithinDuration(t, now.Add(lease), *claimed[0].NextPollAt, 2*time.Second)

	// Leased rows stay out of the next claim until the lease expires.
	again, err := st.ClaimDueCarrierShipments(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Empty(t, again)

	polledAt := time.Now().UTC()
	nextAt := polledAt.Add(1 * time.Minute)
	require.NoError(t, st.RecordPollSuccess(ctx, linked.ID, polledAt, nextAt))

	got, err := st.GetShipmentByID(ctx, linked.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPollAt)
	require.WithinDuration(t, polledAt, *got.LastPollAt, 2*time.Second)
	require.NotNil(t, got.NextPollAt)
	require.WithinDuration(t, nextAt, *got.NextPollAt, 2*time.Second)
	require.EqualValues(t, 0, got.PollFailCount)

	retryAt := polledAt.Add(5 * time.Minute)
	require.NoError(t, st.RecordPollFailure(ctx, linked.ID, retryAt, "carrier down"))
	got, err = st.GetShipmentByID(ctx, linked.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.PollFailCount)
	require.WithinDuration(t, retryAt, *got.NextPollAt, 2*time.Second)

	require.ErrorIs(t, st.RecordPollSuccess(ctx, uuid.New(), polledAt, nextAt), models.ErrNotFound)
	require.ErrorIs(t, st.RecordPollFailure(ctx, uuid.New(), retryAt, "x"), models.ErrNotFound)
}

func TestPGShipment_ClaimSkipsDelivered(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	linked, err := st.CreateShipment(ctx, models.ShipmentCreateInput{
		Sender:      "Alice",
		Receiver:    "Bob",
		CarrierCode: "DHL",
		CarrierRef:  "REF-DELIVERED",
	}, "user-1", "")
	require.NoError(t, err)

	err = st.ApplyShipmentUpdate(ctx, ShipmentUpdate{
		ShipmentID: linked.ID,
		Status:     models.ShipmentStatusDelivered,
		Message:    "Handed to receiver",
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err)

	claimed, err := st.ClaimDueCarrierShipments(ctx, time.Now().UTC(), 10, 10*time.Second)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestPGShipment_ApplyShipmentUpdate_ConcurrentApplies(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	created, err := st.CreateShipment(ctx, models.ShipmentCreateInput{
		Sender:   "Alice",
		Receiver: "Bob",
	}, "user-1", "")
	require.NoError(t, err)

	// All writers target the same row: the row lock serializes them, every
	// checkpoint lands, and the final status is whichever committed last.
	const n = 8
	statuses := make([]string, n)
	for i := range statuses {
		statuses[i] = fmt.Sprintf("AT_HUB_%d", i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			errs <- st.ApplyShipmentUpdate(ctx, ShipmentUpdate{
				ShipmentID: created.ID,
				Status:     status,
				Message:    "arrived at " + status,
				Timestamp:  time.Now().UTC(),
			})
		}(statuses[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	cps, err := st.ListCheckpoints(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, cps, n+1) // initial CREATED plus one per apply

	got, err := st.GetShipmentByID(ctx, created.ID)
	require.NoError(t, err)
	require.Contains(t, statuses, got.CurrentStatus)
	require.False(t, got.UpdatedAt.Before(created.UpdatedAt))
}
