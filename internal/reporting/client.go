// Package reporting delivers confirmed violation reports to the
// enforcement backend over HTTP.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
	"github.com/odsyjr2/illegal-parking-detection/internal/httputil"
)

// Client posts each report as JSON to Endpoint. Any transport error or
// non-2xx status fails the call, which makes the worker pool retry it.
type Client struct {
	HTTPClient httputil.HTTPClient
	Endpoint   string
	Token      string // sent as a bearer token when set
}

// NewClient returns a client for endpoint. A nil httpClient gets a plain
// http.Client with a 30s timeout.
func NewClient(httpClient httputil.HTTPClient, endpoint, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		HTTPClient: httpClient,
		Endpoint:   endpoint,
		Token:      token,
	}
}

// Report implements dispatch.ReportingClient.
func (c *Client) Report(ctx context.Context, report dispatch.ViolationReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post report %s: %w", report.TaskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post report %s: status %d: %s", report.TaskID, resp.StatusCode, bytes.TrimSpace(body))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
