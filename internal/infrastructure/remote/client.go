package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"stockwatch/internal/domain/entity/stocks"
)

const defaultTimeout = 10 * time.Second

// Client fetches the full quote universe from the remote HTTP catalog. The
// catalog is the source of truth; local storage is only a replica of what
// this client returns.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("remote base url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithField("component", "quote_source"),
	}, nil
}

func (c *Client) FetchAll(ctx context.Context) ([]stocks.Quote, error) {
	url := c.baseURL + "/quotes"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch quotes: unexpected status %d", resp.StatusCode)
	}

	var quotes []stocks.Quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	c.logger.WithField("count", len(quotes)).Debug("fetched quote universe")
	return quotes, nil
}
