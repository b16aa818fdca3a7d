// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package syncmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// RemoteStore is the record-mutation contract the sync engine replays
// against. The remote is only ever mutated through these calls; remote state
// is never pulled back into the local cache by the sync core.
type RemoteStore interface {
	CreateRecord(ctx context.Context, entityType string, data json.RawMessage) error
	UpdateRecord(ctx context.Context, entityType, id string, data json.RawMessage) error
	DeleteRecord(ctx context.Context, entityType, id string) error

	// CheckHealth probes remote reachability. A nil return means reachable.
	CheckHealth(ctx context.Context) error
}

// NetworkError indicates no response was received from the remote at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "remote unreachable: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteRejectedError indicates the remote responded but refused the
// mutation, either with a non-success HTTP status or a failure envelope.
type RemoteRejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("remote rejected (status %d): %s", e.StatusCode, e.Reason)
}

// ErrUnknownOperation is defensive; the operation type set is closed.
var ErrUnknownOperation = errors.New("unknown sync operation type")

// TokenFunc supplies a bearer token for remote calls.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote record store over HTTP.
type Client struct {
	BaseURL string
	Token   TokenFunc // optional; no Authorization header when nil
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewClient creates a remote store client for the given base URL.
func NewClient(baseURL string, token TokenFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// mutateRequest is the wire body for create/update calls.
type mutateRequest struct {
	EntityType string          `json:"entityType"`
	ID         string          `json:"id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// mutateEnvelope is the uniform response shape for all mutation endpoints.
type mutateEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateRecord implements RemoteStore.
func (c *Client) CreateRecord(ctx context.Context, entityType string, data json.RawMessage) error {
	body := mutateRequest{EntityType: entityType, Data: data}
	return c.mutate(ctx, http.MethodPost, c.BaseURL+"/api/records", &body)
}

// UpdateRecord implements RemoteStore.
func (c *Client) UpdateRecord(ctx context.Context, entityType, id string, data json.RawMessage) error {
	body := mutateRequest{EntityType: entityType, ID: id, Data: data}
	return c.mutate(ctx, http.MethodPut, c.BaseURL+"/api/records", &body)
}

// DeleteRecord implements RemoteStore.
func (c *Client) DeleteRecord(ctx context.Context, entityType, id string) error {
	q := url.Values{}
	q.Set("entityType", entityType)
	q.Set("id", id)
	return c.mutate(ctx, http.MethodDelete, c.BaseURL+"/api/records?"+q.Encode(), nil)
}

// CheckHealth implements RemoteStore. Any non-200 response or transport
// failure is treated as unreachable.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &RemoteRejectedError{StatusCode: resp.StatusCode, Reason: "health probe failed"}
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, url string, body *mutateRequest) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		reason := string(raw)
		var envelope mutateEnvelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			reason = envelope.Error
		}
		return &RemoteRejectedError{StatusCode: resp.StatusCode, Reason: reason}
	}

	var envelope mutateEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !envelope.Success {
		return &RemoteRejectedError{StatusCode: resp.StatusCode, Reason: envelope.Error}
	}
	return nil
}
