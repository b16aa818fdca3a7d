// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package remotestore

import "encoding/json"

// REST/JSON models for the record-mutation HTTP API.

// MutateRequest is the body of create and update calls. For creates the
// record id travels inside Data; for updates it is explicit.
type MutateRequest struct {
	EntityType string          `json:"entityType"`
	ID         string          `json:"id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// MutateResponse is the uniform success/failure envelope returned by every
// mutation endpoint.
type MutateResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is returned by the reachability probe.
type HealthResponse struct {
	Status  string `json:"status"`
	AppName string `json:"app_name"`
}
