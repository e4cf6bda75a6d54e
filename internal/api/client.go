package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dreamware/presence/internal/presence"
	"github.com/dreamware/presence/internal/status"
)

// DefaultTimeout bounds a single request made by Client.
const DefaultTimeout = 5 * time.Second

// StatusError is returned when the daemon answers with a non-2xx status.
type StatusError struct {
	Code     int
	Message  string
	Occupant string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	if e.Occupant != "" {
		return fmt.Sprintf("http %d: %s (occupied by %s)", e.Code, msg, e.Occupant)
	}
	return fmt.Sprintf("http %d: %s", e.Code, msg)
}

// Is maps status codes back onto the presence sentinels so callers can use
// errors.Is on either side of the wire.
func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusBadRequest:
		return target == presence.ErrInvalid
	case http.StatusNotFound:
		return target == presence.ErrNoSession || target == presence.ErrMismatch
	case http.StatusConflict:
		if e.Occupant != "" {
			return target == presence.ErrConflict
		}
		return target == presence.ErrNotOccupant || target == presence.ErrMismatch
	}
	return false
}

// Client talks to presenced.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the daemon at baseURL. An empty token
// sends no Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// BaseURL returns the daemon address the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// Start opens a session. A conflict comes back as a *StatusError that
// satisfies errors.Is(err, presence.ErrConflict) and names the occupant.
func (c *Client) Start(ctx context.Context, req StartRequest) (*Response, error) {
	var out Response
	if err := c.postJSON(ctx, "/start", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat refreshes the caller's session.
func (c *Client) Heartbeat(ctx context.Context, user string) error {
	return c.postJSON(ctx, "/heartbeat", HeartbeatRequest{User: user}, nil)
}

// Release frees the observatory.
func (c *Client) Release(ctx context.Context) error {
	return c.postJSON(ctx, "/release", struct{}{}, nil)
}

// ReportHost submits host metrics.
func (c *Client) ReportHost(ctx context.Context, r HostReport) error {
	return c.postJSON(ctx, "/host_status", r, nil)
}

// ReportTelescope submits telescope pointing.
func (c *Client) ReportTelescope(ctx context.Context, r TelescopeReport) error {
	return c.postJSON(ctx, "/telescope_status", r, nil)
}

// Status fetches the current view.
func (c *Client) Status(ctx context.Context) (status.View, error) {
	var v status.View
	err := c.getJSON(ctx, "/status", &v)
	return v, err
}

// Stats fetches the daemon's operation counters.
func (c *Client) Stats(ctx context.Context) (presence.Stats, error) {
	var s presence.Stats
	err := c.getJSON(ctx, "/stats", &s)
	return s, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return se
	}
	var env Response
	if json.Unmarshal(data, &env) == nil {
		se.Message = env.Message
		se.Occupant = env.Occupant
		return se
	}
	se.Message = strings.TrimSpace(string(data))
	return se
}

// IsUnauthorized reports whether err is a 401 from the daemon.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}
