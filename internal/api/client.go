package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const tokenCookieKey = "token"

// Client performs requests against the ChatterBox HTTP API on behalf of the
// current session.
type Client struct {
	log        *log.Logger
	baseURL    *url.URL
	httpClient *http.Client

	mu             sync.RWMutex
	tokenSource    func() string
	onUnauthorized func()
}

func NewClient(logger *log.Logger, baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	return &Client{
		log:     logger,
		baseURL: u,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetTokenSource sets the function used to look up the bearer credential
// attached to each request.
func (c *Client) SetTokenSource(fn func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenSource = fn
}

// OnUnauthorized registers fn to run whenever an authenticated request is
// rejected with 401.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokenSource == nil {
		return ""
	}
	return c.tokenSource()
}

func (c *Client) unauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

type request struct {
	method string
	path   string
	// body is JSON encoded unless raw is set.
	body        any
	raw         io.Reader
	contentType string
	// anonymous requests (login, register) never trigger the unauthorized hook.
	anonymous bool
}

type response struct {
	status  int
	body    []byte
	cookies []*http.Cookie
}

// envelope is the wrapper some endpoints put around their payload.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Token   string          `json:"token"`
	Message string          `json:"message"`
}

func (c *Client) send(ctx context.Context, req request) (*response, error) {
	body := req.raw
	contentType := req.contentType
	if body == nil && req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	u := c.baseURL.JoinPath(req.path)
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token := c.token(); token != "" && !req.anonymous {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	res := &response{
		status:  resp.StatusCode,
		body:    b,
		cookies: resp.Cookies(),
	}

	if resp.StatusCode == http.StatusUnauthorized && !req.anonymous {
		c.log.Printf("%s %s: unauthorized, clearing session", req.method, req.path)
		c.unauthorized()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, errorMessage(b))
	}

	return res, nil
}

// do sends req and decodes the payload into out, unwrapping the
// {success, data} envelope when the backend uses one.
func (c *Client) do(ctx context.Context, req request, out any) (*envelope, error) {
	res, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}

	env, payload := unwrap(res.body)
	if env != nil && env.Success != nil && !*env.Success {
		return nil, newAPIError(res.status, env.Message)
	}

	if env == nil {
		env = &envelope{}
	}
	if env.Token == "" {
		for _, ck := range res.cookies {
			if ck.Name == tokenCookieKey {
				env.Token = ck.Value
			}
		}
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", req.method, req.path, err)
		}
	}

	return env, nil
}

// unwrap returns the envelope, if any, and the bytes holding the payload.
func unwrap(body []byte) (*envelope, []byte) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, trimmed
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Success == nil {
		return nil, trimmed
	}

	return &env, env.Data
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(e.Error)
}
