// Package api implements the HTTP client of the sync protocol.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kiosklab/posbox/pkg/api"
)

// ErrTransport marks network and remote failures. The sync engine treats any
// error carrying it as a retryable phase failure.
var ErrTransport = errors.New("transport error")

// Client представляет HTTP клиент для взаимодействия с sync сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient создает новый API клиент. baseURL указывает на endpoint сервера,
// например "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Push transmits a batch of outbox operations.
// Success is any 2xx response.
func (c *Client) Push(ctx context.Context, ops []api.OutboxOperation) error {
	req := api.PushRequest{Operations: ops}
	if err := c.doRequest(ctx, http.MethodPost, "/sync/push", req, nil); err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	return nil
}

// Pull fetches changes for a collection since the given cursor,
// bounded by limit.
func (c *Client) Pull(ctx context.Context, collection, since string, limit int) (*api.PullResponse, error) {
	var resp api.PullResponse
	path := "/sync/pull?collection=" + url.QueryEscape(collection) +
		"&since=" + url.QueryEscape(since) +
		"&limit=" + strconv.Itoa(limit)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %w", ErrTransport, err)
	}

	// Любой не-2xx считается транспортной ошибкой
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("%w: server error (%d): %s", ErrTransport, resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("%w: request failed with status %d", ErrTransport, resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
