// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package syncmgr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// roundTripFunc fakes the HTTP transport so no server is needed.
type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newFakeClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	c := NewClient("http://sync.local", func(context.Context) (string, error) {
		return "test-token", nil
	}, nil)
	c.HTTP = &http.Client{Transport: fn}
	return c
}

func TestCreateRecordRequestShape(t *testing.T) {
	var captured *http.Request
	var body mutateRequest
	client := newFakeClient(t, func(r *http.Request) (*http.Response, error) {
		captured = r
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		return jsonResponse(200, `{"success":true}`), nil
	})

	err := client.CreateRecord(context.Background(), "patients", json.RawMessage(`{"id":"p1","name":"Amina"}`))
	require.NoError(t, err)

	require.Equal(t, http.MethodPost, captured.Method)
	require.Equal(t, "/api/records", captured.URL.Path)
	require.Equal(t, "Bearer test-token", captured.Header.Get("Authorization"))
	require.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	require.Equal(t, "patients", body.EntityType)
	require.JSONEq(t, `{"id":"p1","name":"Amina"}`, string(body.Data))
}

func TestUpdateRecordRequestShape(t *testing.T) {
	var captured *http.Request
	var body mutateRequest
	client := newFakeClient(t, func(r *http.Request) (*http.Response, error) {
		captured = r
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		return jsonResponse(200, `{"success":true}`), nil
	})

	err := client.UpdateRecord(context.Background(), "vitals", "v1", json.RawMessage(`{"bp":"120/80"}`))
	require.NoError(t, err)

	require.Equal(t, http.MethodPut, captured.Method)
	require.Equal(t, "/api/records", captured.URL.Path)
	require.Equal(t, "vitals", body.EntityType)
	require.Equal(t, "v1", body.ID)
}

func TestDeleteRecordUsesQueryParams(t *testing.T) {
	var captured *http.Request
	client := newFakeClient(t, func(r *http.Request) (*http.Response, error) {
		captured = r
		return jsonResponse(200, `{"success":true}`), nil
	})

	err := client.DeleteRecord(context.Background(), "drugs", "d1")
	require.NoError(t, err)

	require.Equal(t, http.MethodDelete, captured.Method)
	require.Equal(t, "/api/records", captured.URL.Path)
	require.Equal(t, "drugs", captured.URL.Query().Get("entityType"))
	require.Equal(t, "d1", captured.URL.Query().Get("id"))
	require.Nil(t, captured.Body)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	client := newFakeClient(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	err := client.CreateRecord(context.Background(), "patients", json.RawMessage(`{}`))
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestFailureEnvelopeIsRejectedError(t *testing.T) {
	client := newFakeClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"success":false,"error":"duplicate drug name"}`), nil
	})

	err := client.CreateRecord(context.Background(), "drugs", json.RawMessage(`{}`))
	var rejErr *RemoteRejectedError
	require.ErrorAs(t, err, &rejErr)
	require.Equal(t, "duplicate drug name", rejErr.Reason)
}

func TestNonSuccessStatusIsRejectedError(t *testing.T) {
	client := newFakeClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(422, `{"success":false,"error":"validation failed"}`), nil
	})

	err := client.UpdateRecord(context.Background(), "patients", "p1", json.RawMessage(`{}`))
	var rejErr *RemoteRejectedError
	require.ErrorAs(t, err, &rejErr)
	require.Equal(t, 422, rejErr.StatusCode)
	require.Equal(t, "validation failed", rejErr.Reason)
}

func TestCheckHealth(t *testing.T) {
	var captured *http.Request
	client := newFakeClient(t, func(r *http.Request) (*http.Response, error) {
		captured = r
		return jsonResponse(200, `{"status":"healthy"}`), nil
	})
	require.NoError(t, client.CheckHealth(context.Background()))
	require.Equal(t, "/health", captured.URL.Path)

	client = newFakeClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(503, `unavailable`), nil
	})
	err := client.CheckHealth(context.Background())
	var rejErr *RemoteRejectedError
	require.ErrorAs(t, err, &rejErr)

	client = newFakeClient(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("no route to host")
	})
	var netErr *NetworkError
	require.ErrorAs(t, client.CheckHealth(context.Background()), &netErr)
}

func TestNoTokenFuncOmitsAuthHeader(t *testing.T) {
	var captured *http.Request
	client := NewClient("http://sync.local", nil, nil)
	client.HTTP = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		return jsonResponse(200, `{"success":true}`), nil
	})}

	require.NoError(t, client.DeleteRecord(context.Background(), "patients", "p1"))
	require.Empty(t, captured.Header.Get("Authorization"))
}
