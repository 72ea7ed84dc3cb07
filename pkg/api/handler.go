// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

type handler struct {
	ctrl Controller
	log  *zap.Logger
}

func registerRoutes(g *gin.RouterGroup, h *handler) {
	g.GET("/devices", h.listDevices)
	g.GET("/status", h.status)
	g.POST("/connect", h.connect)
	g.POST("/disconnect", h.disconnect)
	g.POST("/refresh", h.refresh)

	g.GET("/signals", h.listSignals)
	g.GET("/signals/:name", h.getSignal)
	g.PUT("/signals/:name", h.writeSignal)
	g.PUT("/signals/:name/schedule", h.setSchedule)
}

// WriteRequest sets a signal by value or, for selector signals, by label
type WriteRequest struct {
	Value *float64 `json:"value"`
	Label string   `json:"label"`
}

// ScheduleRequest changes the polling of one signal. CycleTime is a Go
// duration string; empty keeps the current cycle time.
type ScheduleRequest struct {
	Cyclic    bool   `json:"cyclic"`
	CycleTime string `json:"cycleTime"`
}

// ConnectRequest opens a link to Device
type ConnectRequest struct {
	Device string `json:"device" binding:"required"`
}

// statusFor maps link and signal errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, signals.ErrUnknownSignal):
		return http.StatusNotFound
	case errors.Is(err, signals.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, link.ErrNotConnected), errors.Is(err, link.ErrAlreadyConnected):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func (h *handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Warn("api request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (h *handler) listDevices(c *gin.Context) {
	devices, err := h.ctrl.ListDevices()
	if err != nil {
		h.fail(c, err)
		return
	}
	if devices == nil {
		devices = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.Status())
}

func (h *handler) connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.Connect(c.Request.Context(), req.Device); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ctrl.Status())
}

func (h *handler) disconnect(c *gin.Context) {
	if err := h.ctrl.Disconnect(); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) refresh(c *gin.Context) {
	if err := h.ctrl.ForceRefreshAllSignals(); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) listSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": h.ctrl.Snapshot()})
}

func (h *handler) getSignal(c *gin.Context) {
	st, err := h.ctrl.Signal(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) writeSignal(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.ctrl.Signal(name); err != nil {
		h.fail(c, err)
		return
	}

	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch {
	case req.Value != nil:
		err = h.ctrl.WriteSignal(name, *req.Value)
	case req.Label != "":
		err = h.ctrl.WriteSignalText(name, req.Label)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "value or label required"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	st, _ := h.ctrl.Signal(name)
	c.JSON(http.StatusAccepted, st)
}

func (h *handler) setSchedule(c *gin.Context) {
	name := c.Param("name")
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cycleTime time.Duration
	if req.CycleTime != "" {
		d, err := signals.ParseUpdateRate(req.CycleTime)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid cycleTime " + req.CycleTime})
			return
		}
		cycleTime = d
	}

	if err := h.ctrl.SetSchedule(name, req.Cyclic, cycleTime); err != nil {
		h.fail(c, err)
		return
	}
	st, _ := h.ctrl.Signal(name)
	c.JSON(http.StatusOK, st)
}
