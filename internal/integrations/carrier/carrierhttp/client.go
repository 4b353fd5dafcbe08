package carrierhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/integrations/carrier"
)

// Client talks to the carrier emulator JSON API:
// GET {base}/v1/tracking/{carrier}/{ref}.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type respEvent struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type respBody struct {
	Carrier    string      `json:"carrier"`
	CarrierRef string      `json:"carrier_ref"`
	Status     string      `json:"status"`
	Events     []respEvent `json:"events"`
}

func (c *Client) GetTracking(ctx context.Context, carrierCode, carrierRef string) (carrier.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/tracking/%s/%s", url.PathEscape(carrierCode), url.PathEscape(carrierRef))
	if c.apiKey != "" {
		q := u.Query()
		q.Set("apiKey", c.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return carrier.Result{}, fmt.Errorf("carrier feed http %d", resp.StatusCode)
	}

	var body respBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return carrier.Result{}, errors.Wrap(err, "decode")
	}

	res := carrier.Result{Status: body.Status}
	for _, e := range body.Events {
		res.Events = append(res.Events, carrier.Event{
			Status:    e.Status,
			Message:   e.Message,
			Lat:       e.Lat,
			Lng:       e.Lng,
			Timestamp: e.Timestamp.UTC(),
		})
	}
	return res, nil
}
