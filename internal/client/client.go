// Package client talks to a running quill server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Paintersrp/quill/internal/editor"
	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/server"
	"github.com/Paintersrp/quill/internal/state"
	"github.com/Paintersrp/quill/internal/volume"
)

var _ editor.Store = (*Client)(nil)

// APIError is an error response from the server. It unwraps to the
// matching sentinel, so errors.Is works as it does in-process.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return server.Sentinel(e.Code)
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save writes content to path.
func (c *Client) Save(ctx context.Context, path, content string) error {
	return c.do(ctx, http.MethodPost, "/api/files/save", nil, map[string]string{
		"path":    path,
		"content": content,
	}, nil)
}

// Rename moves oldPath to newPath and returns the path the server settled
// on.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) (string, error) {
	var resp struct {
		NewPath string `json:"newPath"`
	}
	err := c.do(ctx, http.MethodPut, "/api/files/rename", nil, map[string]string{
		"oldPath": oldPath,
		"newPath": newPath,
	}, &resp)
	return resp.NewPath, err
}

func (c *Client) Read(ctx context.Context, path string) (handler.Document, error) {
	var doc handler.Document
	err := c.do(ctx, http.MethodGet, "/api/files/read", url.Values{"path": {path}}, nil, &doc)
	return doc, err
}

func (c *Client) List(ctx context.Context, path string) ([]handler.Entry, error) {
	var entries []handler.Entry
	err := c.do(ctx, http.MethodGet, "/api/files/list", url.Values{"path": {path}}, nil, &entries)
	return entries, err
}

// Create writes a new file and fails with handler.ErrFileAlreadyExists when
// the path is taken.
func (c *Client) Create(ctx context.Context, path, content string) (string, error) {
	var resp struct {
		Path string `json:"path"`
	}
	err := c.do(ctx, http.MethodPost, "/api/files/create", nil, map[string]string{
		"path":    path,
		"content": content,
	}, &resp)
	return resp.Path, err
}

// CreateUntitled creates an auto-named document in folder.
func (c *Client) CreateUntitled(ctx context.Context, folder string) (string, error) {
	var resp struct {
		Path string `json:"path"`
	}
	err := c.do(ctx, http.MethodPost, "/api/files/untitled", url.Values{"path": {folder}}, nil, &resp)
	return resp.Path, err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/files/delete", url.Values{"path": {path}}, nil, nil)
}

func (c *Client) Volumes(ctx context.Context) ([]volume.Volume, error) {
	var vols []volume.Volume
	err := c.do(ctx, http.MethodGet, "/api/files/volumes", nil, nil, &vols)
	return vols, err
}

// Events streams workspace changes until ctx is done or the server closes
// the stream. The returned channel is closed when streaming stops.
func (c *Client) Events(ctx context.Context) (<-chan state.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the default request timeout.
	streaming := *c.http
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	events := make(chan state.Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var ev state.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode data to JSON: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
