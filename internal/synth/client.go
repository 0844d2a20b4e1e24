package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/quiver/internal/domain/model"
)

// Client posts generated tables to a running quiver server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type analysisRequest struct {
	Source  string         `json:"source"`
	Records []model.Record `json:"records"`
}

// Submitted is the part of the server's answer the client reads back.
type Submitted struct {
	ID      string `json:"id"`
	Records int    `json:"records"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Healthy reports whether the server answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Submit posts records as one analysis run.
func (c *Client) Submit(ctx context.Context, source string, records []model.Record) (Submitted, error) {
	body, err := json.Marshal(analysisRequest{Source: source, Records: records})
	if err != nil {
		return Submitted{}, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyses", bytes.NewReader(body))
	if err != nil {
		return Submitted{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Submitted{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Submitted{}, err
	}

	if resp.StatusCode != http.StatusCreated {
		var e apiError
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			return Submitted{}, fmt.Errorf("server rejected run (%d %s): %s", resp.StatusCode, e.Code, e.Message)
		}
		return Submitted{}, fmt.Errorf("server rejected run with status %d", resp.StatusCode)
	}
	var out Submitted
	if err := json.Unmarshal(data, &out); err != nil {
		return Submitted{}, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}
