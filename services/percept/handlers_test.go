// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package percept

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/storage"
)

func newTestRouter(t *testing.T) (*gin.Engine, storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, store, _ := newTestService(t, nil)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc, store, nil))
	return router, store
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestSegmentsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/percept/segments",
		`{"session_key": "living-room", "segments": [{"text": "good morning", "speaker": "sp-1"}]}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Buffered)
	assert.Equal(t, 1, resp.ActiveSessions)
}

func TestIngestSegmentsRejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/percept/segments", `{"segments": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_BODY", resp.Code)
}

func TestIngestAudioRequiresSessionKey(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/percept/audio?seq=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDebugClassifyEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/percept/debug/classify",
		`{"text": "hey percept remind me in ten minutes to stretch"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var req datatypes.ActionRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
	assert.Equal(t, datatypes.IntentReminder, req.Intent)
	assert.Equal(t, datatypes.SourceTier1, req.Source)
}

func TestDebugResolveEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	require.NoError(t, store.SaveContact(context.Background(), storage.Contact{
		ID: "c-sarah", Name: "Sarah Chen", Email: "sarah@chenconsulting.com",
	}))

	w := doRequest(router, http.MethodPost, "/v1/percept/debug/resolve",
		`{"name": "Sarah Chen", "type": "person"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var e datatypes.ExtractedEntity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, datatypes.ResolutionAuto, e.Resolution)
	assert.Equal(t, "c-sarah", e.ResolvedID)
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/v1/percept/health", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/v1/percept/ready", "").Code)
}

func TestSecurityEventsEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	require.NoError(t, store.LogSecurityEvent(context.Background(), storage.SecurityEvent{
		SpeakerID: "sp-x", Snippet: "restart the router", Reason: "unauthorized_speaker",
	}))

	w := doRequest(router, http.MethodGet, "/v1/percept/security/events?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized_speaker")
}

func TestSaveContactEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/percept/contacts",
		`{"name": "Sarah Chen", "aliases": ["sarah"], "email": "sarah@chenconsulting.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var saved storage.Contact
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved.ID, "an id is minted when the client omits one")

	contacts, err := store.Contacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Sarah Chen", contacts[0].Name)

	// The saved entry is immediately visible to exact resolution.
	w = doRequest(router, http.MethodPost, "/v1/percept/debug/resolve",
		`{"name": "sarah", "type": "person"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var e datatypes.ExtractedEntity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, saved.ID, e.ResolvedID)
}

func TestSaveContactRequiresName(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/percept/contacts", `{"email": "x@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNameSpeakerEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	// Counters accumulated before the label gets a name must survive.
	require.NoError(t, store.BumpSpeaker(context.Background(), "SPEAKER_01", 42, 3))

	w := doRequest(router, http.MethodPut, "/v1/percept/speakers/SPEAKER_01",
		`{"name": "David", "is_owner": true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var sp storage.Speaker
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sp))
	assert.Equal(t, "David", sp.Name)
	assert.True(t, sp.IsOwner)
	assert.Equal(t, 42, sp.Words)
	assert.Equal(t, 3, sp.Segments)
}

func TestNameSpeakerRequiresName(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPut, "/v1/percept/speakers/SPEAKER_01", `{"is_owner": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
