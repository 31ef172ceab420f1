// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the recall HTTP
// surface.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/recall"
	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// HandleRecall runs one cascading recall.
//
// # Description
//
// POST /v1/recall. Binds the request body, runs the cascade, and maps
// orchestrator sentinels onto HTTP statuses: validation failures are
// 400, a fully failed tier 1 is 502 (the body still carries the error
// result), anything else unexpected is 500. Partial results are 200
// with status "partial" in the body.
func HandleRecall(orch *recall.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RecallRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := orch.Recall(c.Request.Context(), req)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, result)
		case errors.Is(err, recall.ErrEmptyQuery), errors.Is(err, recall.ErrInvalidCascadeDepth):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, recall.ErrAllSourcesFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
		default:
			slog.Error("recall failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recall failed"})
		}
	}
}

// GetReport returns the profiler's full performance report.
//
// GET /v1/report.
func GetReport(orch *recall.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Report())
	}
}

// GetTuning returns the active tuning config for one query class.
//
// GET /v1/tuning/:class.
func GetTuning(orch *recall.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		class := c.Param("class")
		c.JSON(http.StatusOK, gin.H{
			"class":  class,
			"config": orch.CurrentTuning(class),
		})
	}
}

// strategyRequest is the body of POST /v1/tuning/strategy.
type strategyRequest struct {
	Strategy datatypes.Strategy `json:"strategy" binding:"required"`
}

// SetStrategy switches the tuner's optimization objective.
//
// POST /v1/tuning/strategy. The switch takes effect at each class's
// next recomputation boundary.
func SetStrategy(orch *recall.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req strategyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := orch.SetStrategy(req.Strategy); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("tuning strategy switched via API", "strategy", req.Strategy)
		c.JSON(http.StatusOK, gin.H{"status": "success", "strategy": req.Strategy})
	}
}

// HealthCheck reports per-source health. All sources healthy is 200;
// any unhealthy source degrades the response to 503 so load balancers
// can drain the instance.
func HealthCheck(orch *recall.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := orch.Healthcheck(c.Request.Context())

		status := http.StatusOK
		overall := "ok"
		for _, healthy := range health {
			if !healthy {
				status = http.StatusServiceUnavailable
				overall = "degraded"
				break
			}
		}
		c.JSON(status, gin.H{"status": overall, "sources": health})
	}
}
