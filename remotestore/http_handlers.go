// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ClientAuthenticator extracts user and device identity from a request.
// Implementations validate auth (e.g. JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetSourceID(r *http.Request) (string, error)
}

// RecordApplier is the mutation surface the handlers need; *Service
// implements it, tests stub it.
type RecordApplier interface {
	ApplyCreate(ctx context.Context, actor, sourceID, entityType string, data json.RawMessage) (string, error)
	ApplyUpdate(ctx context.Context, actor, sourceID, entityType, id string, data json.RawMessage) error
	ApplyDelete(ctx context.Context, actor, sourceID, entityType, id string) error
}

// Handlers serves the record-mutation HTTP API.
type Handlers struct {
	applier       RecordApplier
	authenticator ClientAuthenticator
	appName       string
	logger        *slog.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(applier RecordApplier, authenticator ClientAuthenticator, appName string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		applier:       applier,
		authenticator: authenticator,
		appName:       appName,
		logger:        logger,
	}
}

// Router mounts the API: the health probe is open, mutations require auth.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/records", h.HandleCreate)
		r.Put("/records", h.HandleUpdate)
		r.Delete("/records", h.HandleDelete)
	})

	return r
}

// HandleHealth is the lightweight reachability probe used by offline
// clients before attempting a replay pass.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", AppName: h.appName})
}

// HandleCreate processes a replayed CREATE operation.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, sourceID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req MutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "failed to parse request body")
		return
	}
	id, err := h.applier.ApplyCreate(r.Context(), actor, sourceID, req.EntityType, req.Data)
	if err != nil {
		h.writeMutateError(w, err, "create", req.EntityType)
		return
	}
	h.writeJSON(w, http.StatusOK, MutateResponse{Success: true, ID: id})
}

// HandleUpdate processes a replayed UPDATE operation.
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, sourceID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req MutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "failed to parse request body")
		return
	}
	if err := h.applier.ApplyUpdate(r.Context(), actor, sourceID, req.EntityType, req.ID, req.Data); err != nil {
		h.writeMutateError(w, err, "update", req.EntityType)
		return
	}
	h.writeJSON(w, http.StatusOK, MutateResponse{Success: true, ID: req.ID})
}

// HandleDelete processes a replayed DELETE operation. Target is identified
// by query parameters since the request has no body.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, sourceID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	entityType := r.URL.Query().Get("entityType")
	id := r.URL.Query().Get("id")
	if err := h.applier.ApplyDelete(r.Context(), actor, sourceID, entityType, id); err != nil {
		h.writeMutateError(w, err, "delete", entityType)
		return
	}
	h.writeJSON(w, http.StatusOK, MutateResponse{Success: true, ID: id})
}

func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (actor, sourceID string, ok bool) {
	actor, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeFailure(w, http.StatusUnauthorized, err.Error())
		return "", "", false
	}
	sourceID, err = h.authenticator.GetSourceID(r)
	if err != nil {
		h.writeFailure(w, http.StatusUnauthorized, err.Error())
		return "", "", false
	}
	return actor, sourceID, true
}

func (h *Handlers) writeMutateError(w http.ResponseWriter, err error, op, entityType string) {
	switch {
	case errors.Is(err, ErrUnknownEntityType),
		errors.Is(err, ErrMissingRecordID),
		errors.Is(err, ErrBadPayload):
		h.writeFailure(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Mutation failed", "op", op, "entity_type", entityType, "error", err)
		h.writeFailure(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) writeFailure(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, MutateResponse{Success: false, Error: message})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
