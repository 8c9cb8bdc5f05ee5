// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package percept

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Percept routes with the router.
//
// Description:
//
//	Registers all /v1/percept/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Ingest Endpoints:
//
//	POST /v1/percept/segments - Buffer transcript segments
//	POST /v1/percept/audio - Buffer one raw PCM chunk
//	GET  /v1/percept/stream - Websocket ingest channel
//
// Query Endpoints:
//
//	GET  /v1/percept/speakers - List known speakers
//	GET  /v1/percept/conversations/:id/utterances - List a conversation's utterances
//	GET  /v1/percept/security/events - List recent security events
//
// Management Endpoints:
//
//	POST /v1/percept/contacts - Insert or replace an address-book entry
//	PUT  /v1/percept/speakers/:id - Name a diarization label
//
// Debug Endpoints:
//
//	POST /v1/percept/debug/classify - Classify text without side effects
//	POST /v1/percept/debug/resolve - Resolve one entity name
//	GET  /v1/percept/debug/sessions - Active session count
//
// Health Endpoints:
//
//	GET  /v1/percept/health - Health check
//	GET  /v1/percept/ready - Readiness check
//
// Example:
//
//	service, _ := percept.NewService(cfg, deps)
//	handlers := percept.NewHandlers(service, deps.Store, logger)
//
//	v1 := router.Group("/v1")
//	percept.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	p := rg.Group("/percept")
	{
		// Ingest
		p.POST("/segments", handlers.HandleIngestSegments)
		p.POST("/audio", handlers.HandleIngestAudio)
		p.GET("/stream", handlers.HandleStream)

		// Queries
		p.GET("/speakers", handlers.HandleListSpeakers)
		p.GET("/conversations/:id/utterances", handlers.HandleListUtterances)
		p.GET("/security/events", handlers.HandleSecurityEvents)

		// Management
		p.POST("/contacts", handlers.HandleSaveContact)
		p.PUT("/speakers/:id", handlers.HandleNameSpeaker)

		// Debug
		debug := p.Group("/debug")
		{
			debug.POST("/classify", handlers.HandleDebugClassify)
			debug.POST("/resolve", handlers.HandleDebugResolve)
			debug.GET("/sessions", handlers.HandleSessions)
		}

		// Health checks
		p.GET("/health", handlers.HandleHealth)
		p.GET("/ready", handlers.HandleReady)
	}
}
