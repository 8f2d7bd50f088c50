package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the wheretheiss.at endpoint for the ISS.
const DefaultURL = "https://api.wheretheiss.at/v1/satellites/25544"

const maxBodyBytes = 1 << 20

// ErrBodyTooLarge is returned when a response exceeds the body limit.
var ErrBodyTooLarge = errors.New("response body exceeds byte limit")

// Client polls an HTTP position API.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for url, or DefaultURL when empty.
func NewClient(url string, logger *slog.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Fetch retrieves and decodes one report.
func (c *Client) Fetch(ctx context.Context) (*Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching position: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("unexpected status code %d from %s: %s", resp.StatusCode, c.url, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("position from %s: %w", c.url, ErrBodyTooLarge)
	}

	var pos Position
	if err := json.Unmarshal(body, &pos); err != nil {
		return nil, fmt.Errorf("decoding position: %w", err)
	}
	pos.Source = "api"
	return &pos, nil
}
