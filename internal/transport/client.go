package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// Client talks to a remote authority. It implements reconcile.Authority.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the authority at endpoint.
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("authority endpoint is not configured")
	}
	return &Client{
		baseURL: endpoint,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// StatusError is a non-2xx response from the authority.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authority responded %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("authority responded %d: %s", e.StatusCode, e.Message)
}

// Push posts batch to the authority and returns its acknowledgement.
func (c *Client) Push(ctx context.Context, batch model.Batch) (model.Ack, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return model.Ack{}, fmt.Errorf("encode batch: %w", err)
	}

	var ack model.Ack
	if err := c.do(ctx, http.MethodPost, PathBatches, bytes.NewReader(body), &ack); err != nil {
		return model.Ack{}, fmt.Errorf("push batch %s: %w", batch.ID, err)
	}
	return ack, nil
}

// Status fetches the authority's statistics for day ("" for today).
func (c *Client) Status(ctx context.Context, day string) (store.Stats, error) {
	path := PathStatus
	if day != "" {
		path += "?day=" + day
	}
	var st store.Stats
	if err := c.do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return store.Stats{}, fmt.Errorf("authority status: %w", err)
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		serr := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Code != "" {
			serr.Code = eb.Error.Code
			serr.Message = eb.Error.Message
		}
		return serr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
