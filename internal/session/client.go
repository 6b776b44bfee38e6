// Package session creates assistant sessions on the remote service and
// holds the duplex channel bound to each of them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrSessionCreate wraps every failure to obtain a session id.
	ErrSessionCreate = errors.New("session creation failed")
	// ErrEmptySessionID is returned instead of dialing a channel without an id.
	ErrEmptySessionID = errors.New("empty session id")
	// ErrChannelOpen wraps failures to open the channel or send BEGIN.
	ErrChannelOpen = errors.New("channel open failed")
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond
	endSessionTimeout   = 5 * time.Second
	maxResponseBytes    = 64 << 10
)

// Config configures a Client.
type Config struct {
	APIBase          string        // e.g. http://localhost:8000
	WSBase           string        // e.g. ws://localhost:8000; derived from APIBase when empty
	Timeout          time.Duration // bound on one creation request, including retries
	Retries          int           // extra attempts on transient failures
	RetryBackoff     time.Duration
	HandshakeTimeout time.Duration
	EndOnClose       bool // call /session/end when a channel is closed locally
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Client talks to the assistant service.
type Client struct {
	apiBase    string
	wsBase     string
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	endOnClose bool
	http       *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	api, err := normalizeBase(cfg.APIBase, "http", "https")
	if err != nil {
		return nil, fmt.Errorf("api base: %w", err)
	}
	if cfg.WSBase == "" {
		cfg.WSBase = strings.Replace(api, "http", "ws", 1)
	}
	ws, err := normalizeBase(cfg.WSBase, "ws", "wss")
	if err != nil {
		return nil, fmt.Errorf("ws base: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = cfg.Timeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.Timeout)
	}
	return &Client{
		apiBase:    api,
		wsBase:     ws,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		backoff:    cfg.RetryBackoff,
		endOnClose: cfg.EndOnClose,
		http:       cfg.HTTPClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: cfg.Logger,
	}, nil
}

func normalizeBase(raw string, schemes ...string) (string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return u.String(), nil
		}
	}
	return "", fmt.Errorf("%q: expected %s://host[:port]", raw, strings.Join(schemes, " or "))
}

// CreateSession requests a session for documentID, opens its channel and
// sends BEGIN. On error no channel is left open.
func (c *Client) CreateSession(ctx context.Context, documentID string, h Handler) (*Session, error) {
	id, err := c.requestSessionID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("session created", "session_id", id, "document", documentID)
	return c.open(ctx, documentID, id, h)
}

type createResponse struct {
	SessionID *string `json:"session_id"`
}

func (c *Client) requestSessionID(ctx context.Context, documentID string) (string, error) {
	if documentID == "" {
		return "", fmt.Errorf("%w: empty document id", ErrSessionCreate)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.apiBase + "/session/create/" + url.PathEscape(documentID)
	resp, err := doWithRetry(ctx, c.http, c.retries, c.backoff, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, c.logger)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionCreate, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrSessionCreate, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrSessionCreate, err)
	}
	if out.SessionID == nil || strings.TrimSpace(*out.SessionID) == "" {
		return "", fmt.Errorf("%w: response has no session_id", ErrSessionCreate)
	}
	return *out.SessionID, nil
}

// EndSession tells the service the session is over. Best effort.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/session/end/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("end session: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Health checks that the service root answers {"message":"ALIVE"}.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return fmt.Errorf("health: decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Message != "ALIVE" {
		return fmt.Errorf("health: HTTP %d, message %q", resp.StatusCode, out.Message)
	}
	return nil
}

// APIBase returns the normalized HTTP origin.
func (c *Client) APIBase() string { return c.apiBase }

// WSBase returns the normalized channel origin.
func (c *Client) WSBase() string { return c.wsBase }

func (c *Client) endAsync(sessionID string) {
	if !c.endOnClose {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), endSessionTimeout)
		defer cancel()
		if err := c.EndSession(ctx, sessionID); err != nil {
			c.logger.Debug("end session failed", "session_id", sessionID, "err", err)
		}
	}()
}
