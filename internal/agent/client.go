package agent

import (
	"context"
	"net/http"
	"time"

	httpclient "gradeline/internal/common/http/client"
	"gradeline/internal/common/http/middleware"
	"gradeline/internal/executor/model"
)

// Client speaks the executor protocol.
type Client struct {
	http *httpclient.Client
	host string
}

// NewClient creates a protocol client that identifies as host.
func NewClient(baseURL, secret, host string, timeout time.Duration) *Client {
	headers := map[string]string{
		middleware.ExecutorSecretHeader: secret,
		middleware.ExecutorHostHeader:   host,
	}
	return &Client{
		http: httpclient.New(baseURL, timeout, func() map[string]string { return headers }),
		host: host,
	}
}

// Register announces the machine.
func (c *Client) Register(ctx context.Context, address, config string) (*model.Machine, error) {
	var m model.Machine
	err := c.http.DoJSON(ctx, http.MethodPost, "/api/v1/executor/machines", map[string]string{
		"host":    c.host,
		"address": address,
		"config":  config,
	}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Fetch claims the next job; nil means there is no work.
func (c *Client) Fetch(ctx context.Context) (*model.Job, error) {
	var out struct {
		Job *model.Job `json:"job"`
	}
	if err := c.http.DoJSON(ctx, http.MethodPost, "/api/v1/executor/jobs/fetch", map[string]string{"host": c.host}, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// PostResult reports the outcome of job.
func (c *Client) PostResult(ctx context.Context, job *model.Job, out *Outcome) error {
	return c.http.DoJSON(ctx, http.MethodPost, "/api/v1/executor/results", map[string]interface{}{
		"host":      c.host,
		"file_id":   job.FileID,
		"kind":      job.Kind,
		"result":    out.Output,
		"exit_code": out.ExitCode,
		"perf_data": out.PerfData,
	}, nil)
}
