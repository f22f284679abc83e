// Package submit talks to the claim-processing backend and drives the
// sequential batch submission of a run.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response ends up in messages.
const maxErrorBody = 512

// HTTPClient executes HTTP requests. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d - %s", e.StatusCode, e.Body)
}

// Client posts to the backend endpoints.
type Client struct {
	httpClient HTTPClient
	submitURL  string
	legacyURL  string
	timeout    time.Duration
}

// NewClient creates a client with its own *http.Client. timeout bounds each
// request; 0 disables it.
func NewClient(submitURL, legacyURL string, timeout time.Duration) *Client {
	return NewClientWith(&http.Client{}, submitURL, legacyURL, timeout)
}

// NewClientWith creates a client on top of an existing HTTPClient.
func NewClientWith(httpClient HTTPClient, submitURL, legacyURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: httpClient,
		submitURL:  submitURL,
		legacyURL:  legacyURL,
		timeout:    timeout,
	}
}

// Submit sends one batch as JSON. The returned status is the HTTP status code,
// or 0 when no response arrived.
func (c *Client) Submit(ctx context.Context, req EnviarRequest) (*EnviarResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding request: %w", err)
	}

	var out EnviarResponse
	status, err := c.do(ctx, c.submitURL, "application/json", bytes.NewReader(body), &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

// Part is one file of a legacy multipart upload.
type Part struct {
	Name string
	Body io.Reader
}

// Process sends every file in a single multipart request under the field
// "files".
func (c *Client) Process(ctx context.Context, parts []Part) (*ProcessResponse, int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		w, err := mw.CreateFormFile("files", p.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("creating form file %s: %w", p.Name, err)
		}
		if _, err := io.Copy(w, p.Body); err != nil {
			return nil, 0, fmt.Errorf("copying %s: %w", p.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, 0, fmt.Errorf("closing multipart body: %w", err)
	}

	var out ProcessResponse
	status, err := c.do(ctx, c.legacyURL, mw.FormDataContentType(), &buf, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *Client) do(ctx context.Context, url, contentType string, body io.Reader, out any) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: errorBody(resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}

// errorBody extracts a message from a failed response: the "error" field of a
// JSON body, else the raw text, else the status text.
func errorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(data))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}
