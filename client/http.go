package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"Certifier/internal/api"
)

// APIError is a failed answer from the gateway.
type APIError struct {
	Status  int    // Status is the HTTP status code
	Message string // Message is the gateway's error text
	Code    string // Code is the error class, empty when unclassified
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway status %d (%s): %s", e.Status, e.Code, e.Message)
	}

	return fmt.Sprintf("gateway status %d: %s", e.Status, e.Message)
}

// get performs a GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", path, err)
	}

	return c.do(req, result)
}

// post performs a POST request with a binary body and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", path, err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")

	return c.do(req, result)
}

// do sends the request. Non-200 answers become *APIError.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", req.Method, req.URL.Path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			body.Error = http.StatusText(resp.StatusCode)
		}

		return &APIError{Status: resp.StatusCode, Message: body.Error, Code: body.Code}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response:\n%w", req.URL.Path, err)
	}

	return nil
}
