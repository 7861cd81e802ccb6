// Package aggregator implements the client of the external aggregation API
// where executed combinations are forwarded.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/stplan/sheetsweep/internal/log"
)

const (
	insertPath = "/InsertTemplateParam"
	latestPath = "/GetSingleTemplateParam"
)

// Record is one aggregated combination outcome.
type Record struct {
	SubjectID  string            `json:"subject_id"`
	StepIndex  int               `json:"step_index"`
	Parameters map[string]string `json:"parameters"`
	Metrics    map[string]string `json:"metrics"`
}

// ClientConfig is the configuration of the aggregation API client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "aggregator.Client"})
	return nil
}

// Client talks JSON over HTTP to the aggregation API. Calls go through a
// circuit breaker and a bounded retry so a flapping remote neither blocks
// sweeps nor gets hammered while it is down.
type Client struct {
	baseURL    string
	maxRetries int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     log.Logger
}

// NewClient creates a new aggregation API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "aggregator",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warningf("Circuit breaker %s changed state: %s -> %s", name, from, to)
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		httpClient: cfg.HTTPClient,
		breaker:    breaker,
		logger:     cfg.Logger,
	}, nil
}

// InsertRecord forwards one executed combination.
func (c *Client) InsertRecord(ctx context.Context, record Record) error {
	if record.SubjectID == "" {
		return fmt.Errorf("record subject id is required")
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("could not marshal record: %w", err)
	}

	_, err = c.call(ctx, http.MethodPost, c.baseURL+insertPath, body)
	if err != nil {
		return fmt.Errorf("could not insert record: %w", err)
	}
	return nil
}

// LatestRecord returns the most recent record of a subject. The second return
// value is false when the subject has no records yet.
func (c *Client) LatestRecord(ctx context.Context, subjectID string) (*Record, bool, error) {
	if subjectID == "" {
		return nil, false, fmt.Errorf("subject id is required")
	}

	endpoint := fmt.Sprintf("%s%s?subject_id=%s", c.baseURL, latestPath, url.QueryEscape(subjectID))
	respBody, err := c.call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		var statusErr statusError
		if errors.As(err, &statusErr) && statusErr.code == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("could not get latest record: %w", err)
	}

	if len(bytes.TrimSpace(respBody)) == 0 || string(bytes.TrimSpace(respBody)) == "null" {
		return nil, false, nil
	}

	record := &Record{}
	if err := json.Unmarshal(respBody, record); err != nil {
		return nil, false, fmt.Errorf("could not unmarshal record: %w", err)
	}
	return record, true, nil
}

type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("aggregation API returned status %d: %s", e.code, e.body)
}

func (c *Client) call(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		resp, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, method, endpoint, body)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(err)
			}
			var statusErr statusError
			if errors.As(err, &statusErr) && statusErr.code >= 400 && statusErr.code < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp.([]byte), nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warningf("Aggregation API call failed, retrying in %s: %s", wait, err)
		}),
	)
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	return respBody, nil
}
