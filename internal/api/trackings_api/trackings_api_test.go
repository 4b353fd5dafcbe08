package trackings_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/packlane/packlane/internal/broker/messages"
	"github.com/packlane/packlane/internal/services/trackingingest"
)

type fakeProducer struct {
	topic  string
	key    []byte
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topic, p.key = topic, key
	p.values = append(p.values, value)
	return p.err
}

type fakeLimiter struct {
	allowed bool
	n       int64
}

func (l *fakeLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	l.n++
	return l.allowed, l.n, nil
}

func newServer(p *fakeProducer, rl RateLimiter) *httptest.Server {
	api := New(trackingingest.New(p, "tracking.updated"))
	if rl != nil {
		api = api.WithRateLimiter(rl, 10)
	}
	r := chi.NewRouter()
	api.Routes(r)
	return httptest.NewServer(r)
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestUpdate_Accepted(t *testing.T) {
	p := &fakeProducer{}
	srv := newServer(p, nil)
	defer srv.Close()

	shID := uuid.New()
	resp := post(t, srv.URL+"/update",
		`{"shipment_id":"`+shID.String()+`","status":"IN_TRANSIT","lat":50.0,"lng":8.0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, p.values, 1)
	var msg messages.TrackingUpdate
	require.NoError(t, json.Unmarshal(p.values[0], &msg))
	require.Equal(t, shID, msg.ShipmentID)
	require.Equal(t, "IN_TRANSIT", msg.Status)
}

func TestUpdate_MissingShipmentID(t *testing.T) {
	p := &fakeProducer{}
	srv := newServer(p, nil)
	defer srv.Close()

	resp := post(t, srv.URL+"/update", `{"status":"IN_TRANSIT"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, p.values)
}

func TestUpdate_MalformedBody(t *testing.T) {
	srv := newServer(&fakeProducer{}, nil)
	defer srv.Close()

	resp := post(t, srv.URL+"/update", `{"shipment_id": 42}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdate_PublishFailure(t *testing.T) {
	p := &fakeProducer{err: context.DeadlineExceeded}
	srv := newServer(p, nil)
	defer srv.Close()

	resp := post(t, srv.URL+"/update",
		`{"shipment_id":"`+uuid.NewString()+`","status":"IN_TRANSIT"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestUpdate_RateLimited(t *testing.T) {
	p := &fakeProducer{}
	srv := newServer(p, &fakeLimiter{allowed: false})
	defer srv.Close()

	resp := post(t, srv.URL+"/update",
		`{"shipment_id":"`+uuid.NewString()+`","status":"IN_TRANSIT"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Empty(t, p.values)
}

func TestHealth(t *testing.T) {
	srv := newServer(&fakeProducer{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
