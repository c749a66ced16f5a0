// Package judge0 is a client for the Judge0 code execution API.
//
// Only synchronous submissions are used: the request waits on the service
// until the program finished and returns the result in the same response.
package judge0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxResponseSize = 64 << 20

// ErrUnexpectedStatus is wrapped for non-2xx responses without an error message
var ErrUnexpectedStatus = errors.New("judge0: unexpected http status")

// ServiceError is returned when the service answered with an error field
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Config defines client configuration
type Config struct {
	// URL is the service base URL, e.g. https://judge0.usaco.guide
	URL string
	// AuthToken is sent as X-Auth-Token when not empty
	AuthToken string
	// Timeout bounds a whole submission; zero leaves it to the service
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client submits programs to a Judge0 instance
type Client struct {
	base      *url.URL
	authToken string
	hc        *http.Client
	logger    *zap.Logger
}

// New creates a client
func New(conf Config) (*Client, error) {
	if conf.URL == "" {
		return nil, errors.New("judge0: empty service url")
	}
	u, err := url.Parse(strings.TrimRight(conf.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("judge0: invalid service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("judge0: unsupported url scheme %q", u.Scheme)
	}
	hc := conf.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: conf.Timeout}
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:      u,
		authToken: conf.AuthToken,
		hc:        hc,
		logger:    logger,
	}, nil
}

// Submit sends a submission and waits for its result. A refusal reported by
// the service is returned as *ServiceError; every other failure is a
// transport failure.
func (c *Client) Submit(ctx context.Context, s *Submission) (*Result, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("judge0: encode submission: %w", err)
	}

	u := c.endpoint("submissions")
	u.RawQuery = url.Values{
		"base64_encoded": {"true"},
		"wait":           {"true"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("judge0: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	var res Result
	code, err := c.do(req, &res)
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, &ServiceError{StatusCode: code, Message: res.Error}
	}
	return &res, nil
}

// Languages lists the languages the service instance offers
func (c *Client) Languages(ctx context.Context) ([]RemoteLanguage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("languages").String(), nil)
	if err != nil {
		return nil, fmt.Errorf("judge0: build request: %w", err)
	}
	c.setAuth(req)

	var ls []RemoteLanguage
	if _, err := c.do(req, &ls); err != nil {
		return nil, err
	}
	return ls, nil
}

func (c *Client) endpoint(p string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + p
	return &u
}

func (c *Client) setAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}
}

// do executes req and decodes a JSON body into v. Error bodies of the form
// {"error": "..."} are reported as *ServiceError regardless of the status.
func (c *Client) do(req *http.Request, v any) (int, error) {
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("judge0: request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("judge0: read response: %w", err)
	}
	c.logger.Debug("judge0 response",
		zap.String("url", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Int("size", len(b)),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return resp.StatusCode, &ServiceError{StatusCode: resp.StatusCode, Message: e.Error}
		}
		return resp.StatusCode, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, snippet(b))
	}
	if err := json.Unmarshal(b, v); err != nil {
		return resp.StatusCode, fmt.Errorf("judge0: decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
