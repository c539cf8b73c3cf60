package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "gradeline/pkg/errors"
)

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Envelope is the JSON body every gradeline endpoint answers with.
type Envelope struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// Client wraps HTTP requests to the gradeline server.
type Client struct {
	baseURL string
	http    *http.Client
	headers func() map[string]string
}

// New creates a client. headers is evaluated per request and may be nil.
func New(baseURL string, timeout time.Duration, headers func() map[string]string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		headers: headers,
	}
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.http.Timeout = timeout
	}
}

// Do sends a raw request and returns the response without interpreting it.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if v != "" {
				req.Header.Set(k, v)
			}
		}
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

// DoJSON sends in as JSON and decodes the envelope data into out.
// A non-success envelope is returned as a coded *errors.Error.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request body failed: %w", err)
		}
	}
	resp, err := c.Do(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	env, err := DecodeEnvelope(resp)
	if err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

// DecodeEnvelope parses resp and turns error envelopes into coded errors.
func DecodeEnvelope(resp ResponseInfo) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("HTTP %d: undecodable response: %w", resp.StatusCode, err)
	}
	if env.Code != int(pkgerrors.Success) {
		e := pkgerrors.New(pkgerrors.ErrorCode(env.Code))
		if env.Message != "" {
			e = e.WithMessage(env.Message)
		}
		if env.Details != nil {
			e = e.WithDetails(env.Details)
		}
		return &env, e
	}
	return &env, nil
}
