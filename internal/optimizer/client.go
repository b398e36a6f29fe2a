package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autoplan/internal/model"
)

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("optimizer returned %d: %s", e.Code, e.Body)
}

// Client talks to a remote optimizer over HTTP. It satisfies the same Submit/Result
// contract as Service.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Token    string
	Attempts int
	Backoff  time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Attempts: 4,
		Backoff:  200 * time.Millisecond,
	}
}

func (c *Client) Submit(ctx context.Context, req model.OptimizeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, c.BaseURL+"/api/optimizer", bytes.NewReader(body))
	})
	if err != nil {
		var he *httpStatusError
		if errors.As(err, &he) && (he.Code == http.StatusBadRequest || he.Code == http.StatusConflict || he.Code == http.StatusUnprocessableEntity) {
			return fmt.Errorf("%w: %s", ErrRejected, he.Body)
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Result(ctx context.Context, id string) (model.OptimizeResult, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, c.BaseURL+"/api/optimizer/"+url.PathEscape(id), nil)
	})
	if err != nil {
		var he *httpStatusError
		if errors.As(err, &he) && he.Code == http.StatusNotFound {
			return model.OptimizeResult{}, ErrRunNotFound
		}
		return model.OptimizeResult{}, err
	}
	defer resp.Body.Close()
	var out model.OptimizeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.OptimizeResult{}, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries network errors, 429 and 5xx responses with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := max(c.Attempts, 1)
	backoff := c.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, err
		}
		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == attempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}
