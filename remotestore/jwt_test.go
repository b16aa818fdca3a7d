// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package remotestore

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	auth := NewJWTAuth("test-secret", nil)

	token, err := auth.GenerateToken("nurse-7", "tablet-3", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "nurse-7", claims.Subject)
	require.Equal(t, "tablet-3", claims.DeviceID)
}

func TestValidateExpiredToken(t *testing.T) {
	auth := NewJWTAuth("test-secret", nil)

	token, err := auth.GenerateToken("nurse-7", "tablet-3", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateWrongSecret(t *testing.T) {
	auth := NewJWTAuth("test-secret", nil)
	other := NewJWTAuth("other-secret", nil)

	token, err := auth.GenerateToken("nurse-7", "tablet-3", time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestRequestIdentityExtraction(t *testing.T) {
	auth := NewJWTAuth("test-secret", nil)
	token, err := auth.GenerateToken("nurse-7", "tablet-3", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/records", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	userID, err := auth.GetUserID(r)
	require.NoError(t, err)
	require.Equal(t, "nurse-7", userID)

	sourceID, err := auth.GetSourceID(r)
	require.NoError(t, err)
	require.Equal(t, "tablet-3", sourceID)
}

func TestRequestWithoutBearer(t *testing.T) {
	auth := NewJWTAuth("test-secret", nil)

	r := httptest.NewRequest(http.MethodPost, "/api/records", nil)
	_, err := auth.GetUserID(r)
	require.Error(t, err)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = auth.GetSourceID(r)
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	auth := NewJWTAuth("test-secret", nil)
	var reached bool
	handler := auth.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	// No header
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, reached)

	// Garbage token
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, reached)

	// Valid token
	token, err := auth.GenerateToken("nurse-7", "tablet-3", time.Hour)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, reached)
}
