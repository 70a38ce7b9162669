// Package api is the typed HTTP client for the engagement API. It knows
// nothing about retries; the retrier owns that policy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
	"github.com/feedbackloop/engage-sdk/internal/payload"
	"github.com/feedbackloop/engage-sdk/internal/targeting"
)

const defaultUserAgent = "engage-sdk-go/0.9"

const (
	headerAppKey       = "X-Engage-App-Key"
	headerAppSignature = "X-Engage-App-Signature"
)

// Config controls how the client behaves.
type Config struct {
	BaseURL      string
	AppKey       string
	AppSignature string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
	UserAgent    string
}

// Client wraps the engagement API endpoints the SDK core depends on.
type Client struct {
	baseURL      string
	appKey       string
	appSignature string
	httpClient   *http.Client
	logger       *slog.Logger
	userAgent    string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api: base URL is required")
	}
	if strings.TrimSpace(cfg.AppKey) == "" || strings.TrimSpace(cfg.AppSignature) == "" {
		return nil, errors.New("api: app key and signature are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		appKey:       cfg.AppKey,
		appSignature: cfg.AppSignature,
		httpClient:   httpClient,
		logger:       logger,
		userAgent:    userAgent,
	}, nil
}

// ConversationResponse is the server's grant of conversation credentials.
type ConversationResponse struct {
	Token string `json:"token"`
	ID    string `json:"id"`
}

// CreateConversation registers this installation and returns conversation
// credentials.
func (c *Client) CreateConversation(ctx context.Context, conv *conversation.Conversation) (*ConversationResponse, error) {
	body, err := json.Marshal(struct {
		Device     conversation.Device     `json:"device"`
		Person     conversation.Person     `json:"person"`
		AppRelease conversation.AppRelease `json:"app_release"`
	}{
		Device:     conv.Device,
		Person:     conv.Person,
		AppRelease: conv.AppRelease,
	})
	if err != nil {
		return nil, fmt.Errorf("api: marshal conversation body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/conversations", body, "")
	if err != nil {
		return nil, err
	}
	var resp ConversationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("api: decode conversation response: %w", err)
	}
	if resp.Token == "" || resp.ID == "" {
		return nil, errors.New("api: conversation response missing token or id")
	}
	return &resp, nil
}

// GetInteractions fetches the engagement manifest for the conversation.
func (c *Client) GetInteractions(ctx context.Context, creds conversation.ConversationCredentials) (*targeting.Manifest, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/conversations/"+creds.ID+"/interactions", nil, creds.Token)
	if err != nil {
		return nil, err
	}
	var manifest targeting.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("api: decode manifest: %w", err)
	}
	return &manifest, nil
}

// SendPayload delivers one queued payload.
func (c *Client) SendPayload(ctx context.Context, creds conversation.ConversationCredentials, p payload.Payload) error {
	body, err := p.WireBody()
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, http.MethodPost, "/conversations/"+creds.ID+"/"+p.Path(), body, creds.Token)
	return err
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte, token string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set(headerAppKey, c.appKey)
		req.Header.Set(headerAppSignature, c.appSignature)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeError(resp.StatusCode, data)
}

// Error is a non-2xx response from the engagement API.
type Error struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("api: %s (status=%d)", e.Title, e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("api: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("api: http status %d", e.StatusCode)
}

// TransportError wraps a failure to reach the server at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("api: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func decodeError(status int, body []byte) error {
	apiErr := &Error{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Title == "" && apiErr.Detail == "") {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	apiErr.StatusCode = status
	return apiErr
}

// IsTransient reports whether the error is worth retrying: timeouts,
// connectivity loss, rate limiting, and server-side failures. Bad
// requests and auth rejections are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return !errors.Is(transportErr.Err, context.Canceled)
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.StatusCode >= 500 && apiErr.StatusCode <= 599
	}
	return false
}
