package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.kite.trade"
	apiVersion     = "3"
)

type endpointClass int

const (
	classDefault endpointClass = iota
	classQuote
	classHistorical
)

// APIError is the error envelope returned by the Kite API.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kite api error (%d %s): %s", e.StatusCode, e.ErrorType, e.Message)
}

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
}

type Client struct {
	apiKey      string
	accessToken string
	baseURL     string
	httpClient  *http.Client
	limiters    map[endpointClass]*rate.Limiter
	logger      *logrus.Logger
}

func NewClient(apiKey, accessToken, baseURL string, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		apiKey:      apiKey,
		accessToken: accessToken,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiters: map[endpointClass]*rate.Limiter{
			classDefault:    rate.NewLimiter(rate.Limit(10), 1),
			classQuote:      rate.NewLimiter(rate.Limit(1), 1),
			classHistorical: rate.NewLimiter(rate.Limit(3), 1),
		},
		logger: logger,
	}
}

// SetRateLimit overrides the request rate of every endpoint class.
func (c *Client) SetRateLimit(limit rate.Limit) {
	for class := range c.limiters {
		c.limiters[class] = rate.NewLimiter(limit, 1)
	}
}

func (c *Client) doRequest(ctx context.Context, class endpointClass, method, path string, query url.Values) (*http.Response, error) {
	if err := c.limiters[class].Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken))

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
	}).Debug("Kite request")

	return c.httpClient.Do(req)
}

func (c *Client) getJSON(ctx context.Context, class endpointClass, path string, query url.Values, out interface{}) error {
	resp, err := c.doRequest(ctx, class, http.MethodGet, path, query)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, ErrorType: "HTTPError", Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		return &APIError{StatusCode: resp.StatusCode, ErrorType: env.ErrorType, Message: env.Message}
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data from %s: %w", path, err)
	}

	return nil
}
