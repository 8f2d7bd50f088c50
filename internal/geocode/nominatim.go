// Package geocode resolves coordinates to place names and back, and finds
// the user's own location.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/star/isswatch/internal/transform"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// DefaultUserAgent identifies requests, as the Nominatim usage policy requires.
const DefaultUserAgent = "isswatch/1.0"

const maxBodyBytes = 1 << 20

// ErrNoResult means the service answered but had nothing for the query,
// e.g. a reverse lookup over open ocean.
var ErrNoResult = errors.New("geocode: no result")

// Nominatim is a client for the Nominatim search and reverse endpoints.
type Nominatim struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNominatim creates a client. Empty arguments select the defaults.
func NewNominatim(baseURL, userAgent string, logger *slog.Logger) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type reverseResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Reverse returns the display name for p. A response without an address
// yields ErrNoResult.
func (n *Nominatim) Reverse(ctx context.Context, p transform.GeoPoint) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(p.Longitude, 'f', -1, 64))
	q.Set("format", "json")

	var resp reverseResponse
	if err := n.get(ctx, "/reverse", q, &resp); err != nil {
		return "", err
	}
	if resp.Address == nil || resp.DisplayName == "" {
		return "", ErrNoResult
	}
	return resp.DisplayName, nil
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search returns the coordinates of the best match for query.
func (n *Nominatim) Search(ctx context.Context, query string) (transform.GeoPoint, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")

	var results []searchResult
	if err := n.get(ctx, "/search", q, &results); err != nil {
		return transform.GeoPoint{}, err
	}
	if len(results) == 0 {
		return transform.GeoPoint{}, ErrNoResult
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return transform.GeoPoint{}, fmt.Errorf("parsing latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return transform.GeoPoint{}, fmt.Errorf("parsing longitude %q: %w", results[0].Lon, err)
	}

	n.logger.Debug("geocoded query", "query", query, "match", results[0].DisplayName, "latitude", lat, "longitude", lon)
	return transform.GeoPoint{Latitude: lat, Longitude: lon}, nil
}

func (n *Nominatim) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d from %s%s", resp.StatusCode, n.baseURL, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
