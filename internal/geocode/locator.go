package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/star/isswatch/internal/transform"
)

// DefaultLocatorURL is the ip-api.com endpoint for the caller's own address.
const DefaultLocatorURL = "http://ip-api.com/json/?fields=status,message,lat,lon,city,country"

// IPLocator estimates the user's position from their public IP address.
type IPLocator struct {
	url        string
	httpClient *http.Client
}

// NewIPLocator creates an IPLocator for url, or DefaultLocatorURL when empty.
func NewIPLocator(url string) *IPLocator {
	if url == "" {
		url = DefaultLocatorURL
	}
	return &IPLocator{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city"`
	Country string  `json:"country"`
}

// Locate returns the estimated position and a "city, country" label.
func (l *IPLocator) Locate(ctx context.Context) (transform.GeoPoint, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return transform.GeoPoint{}, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return transform.GeoPoint{}, "", fmt.Errorf("locating by IP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transform.GeoPoint{}, "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, l.url)
	}

	var r ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&r); err != nil {
		return transform.GeoPoint{}, "", fmt.Errorf("decoding locator response: %w", err)
	}
	if r.Status != "success" {
		return transform.GeoPoint{}, "", fmt.Errorf("locator: %s: %w", r.Message, ErrNoResult)
	}

	label := r.City
	if r.Country != "" {
		label += ", " + r.Country
	}
	return transform.GeoPoint{Latitude: r.Lat, Longitude: r.Lon}, label, nil
}
