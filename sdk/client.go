package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Oudwins/clipq/internals/env"
	"github.com/Oudwins/clipq/internals/schemas"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var ErrShutdownUnsupported = errors.New("shutdown unsupported")

// ErrStreamClosed means the stream ended before its done event.
var ErrStreamClosed = errors.New("stream closed before completion")

type ErrorResponse struct {
	Status  string              `json:"status"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     map[string][]string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// Is matches the engine error named by the response code, so callers can
// use errors.Is(err, schemas.ErrNotFound) on client errors.
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case "not_found":
		return target == schemas.ErrNotFound
	case "not_ready":
		return target == schemas.ErrNotReady
	case "artifact_missing":
		return target == schemas.ErrArtifactMissing || target == schemas.ErrOperationFailed
	}
	return false
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = strings.TrimRight(env.Get().BASE_URL, "/")
	}
	return client
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/shutdown", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrShutdownUnsupported
	}
	return responseError(resp)
}

func (c *Client) StartTask(ctx context.Context, request schemas.TaskCreateRequest) (*schemas.TaskCreateResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/tasks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, responseError(resp)
	}

	var payload schemas.TaskCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) Task(ctx context.Context, taskID string) (*schemas.TaskResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, taskPath(taskID, ""), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var payload schemas.TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Stream follows a task, calling onLine for every log line, and returns the
// done event. The client timeout does not apply; use ctx to bound it.
func (c *Client) Stream(ctx context.Context, taskID string, onLine func(string) error) (*schemas.StreamDone, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+taskPath(taskID, "/stream"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	decoder := newEventDecoder(resp.Body)
	for {
		event, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			return nil, ErrStreamClosed
		}
		if err != nil {
			return nil, err
		}
		switch schemas.StreamEventKind(event.Type) {
		case schemas.StreamEventLog:
			if onLine == nil {
				continue
			}
			if err := onLine(event.Data); err != nil {
				return nil, err
			}
		case schemas.StreamEventDone:
			var done schemas.StreamDone
			if err := json.Unmarshal([]byte(event.Data), &done); err != nil {
				return nil, fmt.Errorf("failed to decode done event: %w", err)
			}
			return &done, nil
		}
	}
}

// DownloadArtifact copies the artifact of a complete task into dst and
// returns the served file name. The server forgets the task afterwards.
func (c *Client) DownloadArtifact(ctx context.Context, taskID string, dst io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+taskPath(taskID, "/artifact"), nil)
	if err != nil {
		return "", 0, err
	}
	downloading := *c.httpClient
	downloading.Timeout = 0
	resp, err := downloading.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, responseError(resp)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		return name, written, err
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return name, written, fmt.Errorf("artifact truncated: got %d of %d bytes", written, resp.ContentLength)
	}
	return name, written, nil
}

func taskPath(taskID, suffix string) string {
	return "/tasks/" + url.PathEscape(taskID) + suffix
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
		return &APIError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message, Fields: payload.Errors}
	}

	return fmt.Errorf("unexpected status: %s", resp.Status)
}
