package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backend paths
const (
	messagePath = "/api/v2/chat/message"
	streamPath  = "/api/v2/chat/stream"
	historyPath = "/api/v2/chat/history/"
	projectPath = "/api/v1/projects/"
	healthPath  = "/health"
)

// Defaults used by NewClient
const (
	DefaultTimeout       = 60 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultHealthBackoff = 2 * time.Second
	DefaultHistoryLimit  = 50
)

// maximum error body read for detail extraction
const maxErrorBody = 64 * 1024

// Client is a client for the project Chat API
type Client struct {
	baseURL string
	log     zerolog.Logger

	// httpClient is bounded by the request timeout; streamClient is bounded only by the caller's context
	httpClient   *http.Client
	streamClient *http.Client

	healthTimeout time.Duration
	healthBackoff time.Duration
}

// NewClient creates a new Chat API client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		log:           log.With().Str("component", "chat_client").Logger(),
		httpClient:    &http.Client{Timeout: timeout},
		streamClient:  &http.Client{},
		healthTimeout: DefaultHealthTimeout,
		healthBackoff: DefaultHealthBackoff,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do performs req and decodes a JSON response into out
func (c *Client) do(client *http.Client, req *http.Request, endpoint string, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		requestsTotal.WithLabelValues(endpoint, result(err)).Inc()
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	resp, err := client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if req.Context().Err() != nil {
			return transportError(req.Context().Err())
		}
		return &Error{Kind: ErrorKindServer, Status: resp.StatusCode, Detail: "invalid response body", Err: err}
	}
	return nil
}

// SendMessage sends a message and waits for the full response
func (c *Client) SendMessage(ctx context.Context, r *ChatRequest) (*ChatResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, messagePath, r)
	if err != nil {
		return nil, err
	}

	resp := new(ChatResponse)
	if err := c.do(c.httpClient, req, "message", resp); err != nil {
		c.log.Warn().Err(err).Str("project_id", r.ProjectID).Msg("chat message failed")
		return nil, err
	}
	return resp, nil
}

// SendMessageStream sends a message and returns a channel of response frames.
// The channel is closed when the stream ends, fails, or ctx is cancelled.
// A transport failure after the stream starts is delivered as a final frame with Err set.
func (c *Client) SendMessageStream(ctx context.Context, r *ChatRequest) (<-chan StreamFrame, error) {
	req, err := c.newRequest(ctx, http.MethodPost, streamPath, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		e := transportError(err)
		requestsTotal.WithLabelValues("stream", result(e)).Inc()
		return nil, e
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		e := statusError(resp.StatusCode, body)
		requestsTotal.WithLabelValues("stream", result(e)).Inc()
		return nil, e
	}

	ch := make(chan StreamFrame, 100)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		err := decodeStream(ctx, resp.Body, ch, c.log)
		requestsTotal.WithLabelValues("stream", result(err)).Inc()
		requestDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
		if err != nil {
			c.log.Warn().Err(err).Str("project_id", r.ProjectID).Msg("chat stream failed")
			select {
			case ch <- StreamFrame{Type: FrameError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// History returns a page of stored messages for projectID, oldest first
func (c *Client) History(ctx context.Context, projectID string, skip, limit int) (*HistoryResponse, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	req, err := c.newRequest(ctx, http.MethodGet, historyPath+url.PathEscape(projectID)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp := new(HistoryResponse)
	if err := c.do(c.httpClient, req, "history", resp); err != nil {
		return nil, err
	}

	sort.SliceStable(resp.Messages, func(i, j int) bool {
		return resp.Messages[i].Timestamp.Before(resp.Messages[j].Timestamp.Time)
	})
	return resp, nil
}

// Project returns the project with the given id
func (c *Client) Project(ctx context.Context, id string) (*Project, error) {
	req, err := c.newRequest(ctx, http.MethodGet, projectPath+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	p := new(Project)
	if err := c.do(c.httpClient, req, "project", p); err != nil {
		return nil, err
	}
	return p, nil
}

// Healthy probes the backend's health endpoint once
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	return c.do(c.httpClient, req, "health", nil)
}

// WaitReady probes the backend up to attempts times, waiting 2s, 4s, ... between attempts.
// Backends that sleep when idle take a few probes to wake.
func (c *Client) WaitReady(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = c.Healthy(ctx); err == nil {
			c.log.Info().Int("attempt", attempt+1).Msg("chat backend ready")
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		delay := time.Duration(attempt+1) * c.healthBackoff
		c.log.Info().Err(err).Dur("retry_in", delay).Msg("chat backend not ready")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return transportError(ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("chat backend not ready after %d attempts: %w", attempts, err)
}
