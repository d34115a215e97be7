package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPFetcher reads bookings from the booking service at
// GET {BaseURL}/bookings/{id}.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewHTTPFetcher creates a fetcher. A nil client gets one bounded by timeout.
func NewHTTPFetcher(baseURL, token string, timeout time.Duration, client *http.Client) (*HTTPFetcher, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrBookingAPIURL
	}
	if client == nil {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{client: client, baseURL: strings.TrimRight(baseURL, "/"), token: token}, nil
}

// FetchBooking returns nil without error when the booking does not exist.
func (f *HTTPFetcher) FetchBooking(ctx context.Context, id string) (*Booking, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/bookings/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("booking api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var b Booking
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("booking api: decode %s: %w", id, err)
	}
	if b.ID == "" {
		b.ID = id
	}
	return &b, nil
}
