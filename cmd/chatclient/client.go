package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/korylprince/tevor-concierge/httpapi"
)

//apiClient talks to the concierge HTTP API
type apiClient struct {
	server     string
	sessionKey string
	http       *http.Client
}

func newAPIClient(server string) *apiClient {
	return &apiClient{
		server: strings.TrimSuffix(server, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) url(path string) string {
	return c.server + httpapi.Prefix + path
}

func (c *apiClient) do(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionKey != "" {
		req.Header.Set("X-Session-Key", c.sessionKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed (status %d): %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) authenticate(email, password string) error {
	var resp httpapi.AuthenticateResponse
	if err := c.do("POST", "/auth", &httpapi.AuthenticateRequest{Email: email, Password: password}, &resp); err != nil {
		return err
	}
	c.sessionKey = resp.SessionKey
	return nil
}

func (c *apiClient) services() ([]*httpapi.ServiceResponse, error) {
	var resp httpapi.ReadServicesResponse
	if err := c.do("GET", "/services/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

func (c *apiClient) quotes(projectID string) (*httpapi.ReadQuotesResponse, error) {
	var resp httpapi.ReadQuotesResponse
	if err := c.do("GET", "/projects/"+url.PathEscape(projectID)+"/quotes/", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) dialChat(projectID string) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.url("/chat/"+url.PathEscape(projectID)), "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	header := http.Header{}
	header.Set("X-Session-Key", c.sessionKey)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return conn, nil
}
