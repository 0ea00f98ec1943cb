// Package executor performs the HTTP call behind a task.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"chainflow/internal/domain"
)

const (
	DefaultTimeout = 300 * time.Second
	maxBody        = 1 << 20
)

type Request struct {
	URL     string
	Method  domain.Method
	Params  domain.Params
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Body       []byte
	Status     string
	Message    string
}

type reply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Client calls task endpoints relative to a base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Run calls t's endpoint. Any transport error, a non-200 reply or a JSON body
// whose status is not "success" is returned as an error; the response body is
// kept either way.
func (c *Client) Run(ctx context.Context, t domain.Task) (Response, error) {
	endpoint := t.Endpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.Do(ctx, Request{
		URL:     c.baseURL + endpoint,
		Method:  t.Method,
		Params:  t.Params,
		Timeout: c.timeout,
	})
}

func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if req.URL == "" {
		return Response{}, errors.New("URL is required")
	}
	if req.Timeout <= 0 {
		req.Timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := newRequest(ctx, req)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to create HTTP request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, errors.Wrap(err, "failed to read response body")
	}
	out := Response{StatusCode: resp.StatusCode, Body: body}

	if resp.StatusCode != http.StatusOK {
		return out, errors.Errorf("request failed: HTTP %d", resp.StatusCode)
	}
	var rep reply
	if err := json.Unmarshal(body, &rep); err != nil {
		return out, errors.Wrap(err, "response is not a JSON object")
	}
	out.Status, out.Message = rep.Status, rep.Message
	if out.Status != domain.StatusSuccess {
		if out.Message != "" {
			return out, errors.New(out.Message)
		}
		return out, errors.Errorf("unexpected response status %q", out.Status)
	}
	return out, nil
}

func newRequest(ctx context.Context, req Request) (*http.Request, error) {
	switch req.Method {
	case domain.MethodPost:
		payload := req.Params
		if payload == nil {
			payload = domain.Params{}
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	case domain.MethodGet, "":
		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range req.Params {
			for _, s := range queryValues(v) {
				q.Add(k, s)
			}
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}
	return nil, fmt.Errorf("unsupported method %q", req.Method)
}

// queryValues renders a JSON param as query strings. nil is omitted and
// lists repeat the key.
func queryValues(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return []string{x}
	case bool:
		return []string{strconv.FormatBool(x)}
	case float64:
		return []string{strconv.FormatFloat(x, 'f', -1, 64)}
	case int:
		return []string{strconv.Itoa(x)}
	case []any:
		var out []string
		for _, e := range x {
			out = append(out, queryValues(e)...)
		}
		return out
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []string{fmt.Sprint(v)}
	}
	return []string{string(b)}
}
