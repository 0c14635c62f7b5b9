package itinerary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every API call.
const DefaultTimeout = 10 * time.Second

// Booking is the passenger information saved alongside a calendar sync.
type Booking struct {
	TourCode      string `json:"tour_code"`
	BookingNumber string `json:"booking_number"`
	CabinNumber   string `json:"cabin_number"`
	UserID        string `json:"user_id,omitempty"`
}

// Client talks to the CruiseCal REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new API client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// FetchItineraryDetails returns the port-call events of a sailing.
func (c *Client) FetchItineraryDetails(ctx context.Context, tourCode string) ([]Event, error) {
	var data json.RawMessage
	if err := c.post(ctx, "/itinary_details", map[string]string{"tour_code": tourCode}, &data); err != nil {
		return nil, fmt.Errorf("failed to fetch itinerary for %s: %w", tourCode, err)
	}

	if len(data) == 0 || string(data) == "null" {
		return []Event{}, nil
	}

	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse itinerary for %s: %w", tourCode, err)
	}
	return events, nil
}

// SaveBooking records the booking and cabin numbers for a sailing.
func (c *Client) SaveBooking(ctx context.Context, booking Booking) error {
	if err := c.post(ctx, "/addToCalendar", booking, nil); err != nil {
		return fmt.Errorf("failed to save booking info: %w", err)
	}
	return nil
}

// post sends body as JSON and decodes the "data" field of the response into out.
func (c *Client) post(ctx context.Context, path string, body any, out *json.RawMessage) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	*out = env.Data
	return nil
}
