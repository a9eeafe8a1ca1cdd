// Package engine is the client for the external retrieval/generation
// engine. The core only consumes its contract (generate a response, clear
// or count stored conversation history) and does not model message content.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Client communicates with the retrieval/generation engine over HTTP.
// Failures are surfaced to the caller, never retried here; retry policy,
// if any, belongs to the engine.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the engine at baseURL. apiKey may be empty
// when the engine does not require authentication.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate forwards a user message to the engine and returns the generated
// response text.
func (c *Client) Generate(ctx context.Context, userID, message string) (string, error) {
	body, err := json.Marshal(generateRequest{UserID: userID, Message: message})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Response, nil
}

// ClearHistory asks the engine to delete stored conversation turns for the
// user. Idempotent: a "not found" from the engine means the history is
// already empty and is treated as success.
func (c *Client) ClearHistory(ctx context.Context, userID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/history/"+url.PathEscape(userID), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("engine returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

type countResponse struct {
	Count int `json:"count"`
}

// HistoryCount returns the number of conversation turns the engine holds
// for the user. A "not found" counts as zero.
func (c *Client) HistoryCount(ctx context.Context, userID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/history/"+url.PathEscape(userID)+"/count", nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var out countResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}
	return out.Count, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
