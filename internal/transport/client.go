package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// BatchIDHeader carries a per-request UUID so the collector can spot replays.
const BatchIDHeader = "X-Batch-ID"

// Client is the HTTP primary transport.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New constructs a Client posting to endpoint.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts body and treats anything but a 2xx answer as failure.
func (c *Client) Send(ctx context.Context, body []byte) error {
	if c == nil || c.endpoint == "" {
		return errors.New("collector client not configured")
	}
	resp, err := post(ctx, c.httpClient, c.endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if !isSuccess(resp.StatusCode) {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func post(ctx context.Context, client *http.Client, endpoint string, body []byte) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(BatchIDHeader, uuid.NewString())

	resp, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}
