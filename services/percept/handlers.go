// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package percept

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/storage"
)

// maxAudioChunkBytes caps one POSTed PCM chunk (1 MiB, ~32s of 16 kHz mono).
const maxAudioChunkBytes = 1 << 20

// ErrorResponse is the JSON body returned on handler failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handlers holds the HTTP layer's dependencies.
type Handlers struct {
	service  *Service
	store    storage.Store
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates the handler set for service.
func NewHandlers(service *Service, store storage.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service: service,
		store:   store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// =============================================================================
// Ingest Endpoints
// =============================================================================

// ingestRequest is the body of POST /v1/percept/segments.
type ingestRequest struct {
	SessionKey string              `json:"session_key" binding:"required"`
	Segments   []datatypes.Segment `json:"segments" binding:"required"`
}

// ingestResponse acknowledges buffered segments.
type ingestResponse struct {
	Buffered       int `json:"buffered"`
	ActiveSessions int `json:"active_sessions"`
}

// HandleIngestSegments handles POST /v1/percept/segments.
//
// Description:
//
//	Accepts transcript segments and feeds them into the session buffer.
//	Buffering is asynchronous: the response acknowledges receipt, not
//	classification. Flush outcomes surface through the action store and
//	the security log.
//
// Response:
//
//	202 Accepted: ingestResponse
//	400 Bad Request: malformed body
func (h *Handlers) HandleIngestSegments(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	h.service.IngestSegments(req.SessionKey, req.Segments)
	c.JSON(http.StatusAccepted, ingestResponse{
		Buffered:       len(req.Segments),
		ActiveSessions: h.service.ActiveSessions(),
	})
}

// HandleIngestAudio handles POST /v1/percept/audio.
//
// Description:
//
//	Accepts one raw PCM chunk (application/octet-stream) for the session
//	named by the session_key query parameter. Chunks carry a seq number so
//	out-of-order delivery reassembles correctly.
//
// Query Parameters:
//
//	session_key: session the chunk belongs to (required)
//	seq: chunk sequence number (required)
//
// Response:
//
//	202 Accepted
//	400 Bad Request: missing parameters or empty body
func (h *Handlers) HandleIngestAudio(c *gin.Context) {
	key := c.Query("session_key")
	if key == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_key parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	seq, err := strconv.Atoi(c.Query("seq"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "seq parameter must be an integer",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAudioChunkBytes))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "empty or unreadable audio body",
			Code:  "INVALID_BODY",
		})
		return
	}

	h.service.IngestAudioChunk(key, seq, data)
	c.Status(http.StatusAccepted)
}

// streamFrame is one message on the websocket stream. Exactly one of
// Segments or Audio is set per frame.
type streamFrame struct {
	SessionKey string              `json:"session_key"`
	Segments   []datatypes.Segment `json:"segments,omitempty"`
	Audio      []byte              `json:"audio,omitempty"`
	Seq        int                 `json:"seq,omitempty"`
}

// HandleStream handles GET /v1/percept/stream (websocket upgrade).
//
// Description:
//
//	Long-lived ingest channel for on-device clients. Each JSON frame
//	carries either transcript segments or a base64 PCM chunk. Frames are
//	acknowledged implicitly; the connection closes on the first malformed
//	frame.
func (h *Handlers) HandleStream(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleStream"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("stream closed unexpectedly", slog.Any("error", err))
			}
			return
		}
		if frame.SessionKey == "" {
			logger.Warn("stream frame missing session_key")
			return
		}
		switch {
		case len(frame.Segments) > 0:
			h.service.IngestSegments(frame.SessionKey, frame.Segments)
		case len(frame.Audio) > 0:
			h.service.IngestAudioChunk(frame.SessionKey, frame.Seq, frame.Audio)
		}
	}
}

// =============================================================================
// Query Endpoints
// =============================================================================

// HandleListSpeakers handles GET /v1/percept/speakers.
func (h *Handlers) HandleListSpeakers(c *gin.Context) {
	speakers, err := h.store.Speakers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"speakers": speakers})
}

// HandleListUtterances handles GET /v1/percept/conversations/:id/utterances.
func (h *Handlers) HandleListUtterances(c *gin.Context) {
	utts, err := h.store.Utterances(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"utterances": utts})
}

// HandleSecurityEvents handles GET /v1/percept/security/events.
//
// Query Parameters:
//
//	limit: maximum events to return, default 50 (optional)
func (h *Handlers) HandleSecurityEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	events, err := h.store.SecurityEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// =============================================================================
// Management Endpoints
// =============================================================================

// contactRequest is the body of POST /v1/percept/contacts.
type contactRequest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name" binding:"required"`
	Aliases []string `json:"aliases"`
	Email   string   `json:"email"`
	Phone   string   `json:"phone"`
}

// HandleSaveContact handles POST /v1/percept/contacts.
//
// Description:
//
//	Inserts or replaces an address-book entry. The exact resolution
//	strategy matches against Name and Aliases, so the names saved here
//	should be the ones the owner actually says aloud.
//
// Response:
//
//	201 Created: the saved contact
//	400 Bad Request: missing name
func (h *Handlers) HandleSaveContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required", Code: "MISSING_PARAMETER"})
		return
	}
	contact := storage.Contact{
		ID:      req.ID,
		Name:    req.Name,
		Aliases: req.Aliases,
		Email:   req.Email,
		Phone:   req.Phone,
	}
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if err := h.store.SaveContact(c.Request.Context(), contact); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

// nameSpeakerRequest is the body of PUT /v1/percept/speakers/:id.
type nameSpeakerRequest struct {
	Name    string `json:"name" binding:"required"`
	IsOwner bool   `json:"is_owner"`
}

// HandleNameSpeaker handles PUT /v1/percept/speakers/:id.
//
// Description:
//
//	Attaches a human name to a diarization label ("SPEAKER_01 is David")
//	and optionally marks the voice as the device owner. Word and segment
//	counters accumulated for the label are preserved.
//
// Response:
//
//	200 OK: the updated speaker record
//	400 Bad Request: missing name
func (h *Handlers) HandleNameSpeaker(c *gin.Context) {
	var req nameSpeakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required", Code: "MISSING_PARAMETER"})
		return
	}
	sp, err := h.store.NameSpeaker(c.Request.Context(), c.Param("id"), req.Name, req.IsOwner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, sp)
}

// =============================================================================
// Debug Endpoints
// =============================================================================

// classifyRequest is the body of POST /v1/percept/debug/classify.
type classifyRequest struct {
	Text string `json:"text" binding:"required"`
}

// HandleDebugClassify handles POST /v1/percept/debug/classify.
//
// Description:
//
//	Runs the classifier on text without buffering, authorization, or
//	dispatch. Intended for QA: verify which tier fires and which params
//	a phrasing yields.
func (h *Handlers) HandleDebugClassify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "text is required", Code: "MISSING_PARAMETER"})
		return
	}
	c.JSON(http.StatusOK, h.service.Classify(c.Request.Context(), req.Text))
}

// resolveRequest is the body of POST /v1/percept/debug/resolve.
type resolveRequest struct {
	Name           string `json:"name" binding:"required"`
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// HandleDebugResolve handles POST /v1/percept/debug/resolve.
func (h *Handlers) HandleDebugResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required", Code: "MISSING_PARAMETER"})
		return
	}
	c.JSON(http.StatusOK, h.service.ResolveEntity(c.Request.Context(), req.Name, req.Type, req.ConversationID))
}

// HandleSessions handles GET /v1/percept/debug/sessions.
func (h *Handlers) HandleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active_sessions": h.service.ActiveSessions()})
}

// =============================================================================
// Health Endpoints
// =============================================================================

// HandleHealth handles GET /v1/percept/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/percept/ready.
//
// Readiness requires the store to answer a read.
func (h *Handlers) HandleReady(c *gin.Context) {
	if _, err := h.store.Speakers(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
