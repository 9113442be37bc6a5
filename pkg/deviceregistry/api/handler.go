// Package api exposes the registry's admin surface over HTTP: adding,
// testing, inspecting and deleting devices, plus batch adds fanned over the
// worker pool.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/lifecycle"
	"github.com/vpbank/device_registry/pkg/deviceregistry/registry"
	"github.com/vpbank/device_registry/pkg/deviceregistry/workers"
)

// Service is the lifecycle capability the handlers drive; satisfied by
// lifecycle.Orchestrator.
type Service interface {
	AddDevice(ctx context.Context, req lifecycle.AddRequest) (*lifecycle.AddResult, error)
	DetectSNMPAuth(ctx context.Context, req lifecycle.AddRequest) (*models.Device, error)
	DeleteDevice(ctx context.Context, deviceID int64, removeRRD bool) (*lifecycle.DeleteReport, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	GetDevice(ctx context.Context, deviceID int64) (*models.Device, error)
	Status(ctx context.Context, deviceID int64) (*lifecycle.DeviceStatus, error)
}

// Handler serves the device admin endpoints.
type Handler struct {
	service Service
	pool    *workers.Pool
	logger  *slog.Logger
}

// NewHandler wires the admin handlers. poolSize bounds batch-add
// concurrency; <= 0 uses the worker pool default.
func NewHandler(service Service, poolSize int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Handler{
		service: service,
		pool:    workers.NewPool(service, poolSize, logger),
		logger:  logger,
	}
}

// RegisterRoutes mounts the admin endpoints on the given group.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	devices.GET("", h.listDevices)
	devices.POST("", h.addDevice)
	devices.POST("/batch", h.addBatch)
	devices.POST("/test", h.testDevice)
	devices.POST("/detect", h.detectAuth)
	devices.GET("/:id", h.getDevice)
	devices.GET("/:id/status", h.deviceStatus)
	devices.DELETE("/:id", h.deleteDevice)
}

// ─────────────────────────────────────────────────────────────────────────────
// Request / response shapes
// ─────────────────────────────────────────────────────────────────────────────

// AddDeviceRequest is the JSON body of POST /devices.
type AddDeviceRequest struct {
	Hostname     string               `json:"hostname" binding:"required"`
	Version      models.SNMPVersion   `json:"snmp_version,omitempty"`
	Port         int                  `json:"snmp_port,omitempty"`
	Transport    models.SNMPTransport `json:"snmp_transport,omitempty"`
	Community    string               `json:"snmp_community,omitempty"`
	V3           *models.V3Params     `json:"snmp_v3,omitempty"`
	Context      string               `json:"snmp_context,omitempty"`
	SNMPableOIDs []string             `json:"snmpable_oids,omitempty"`
	PollerID     int                  `json:"poller_id,omitempty"`
	PingSkip     bool                 `json:"ping_skip,omitempty"`
	Test         bool                 `json:"test,omitempty"`
	IgnoreRRD    bool                 `json:"ignore_rrd,omitempty"`
}

func (r AddDeviceRequest) lifecycleRequest() lifecycle.AddRequest {
	return lifecycle.AddRequest{
		Hostname:     r.Hostname,
		Version:      r.Version,
		Port:         r.Port,
		Transport:    r.Transport,
		Community:    r.Community,
		V3:           r.V3,
		Context:      r.Context,
		SNMPableOIDs: r.SNMPableOIDs,
		PollerID:     r.PollerID,
		PingSkip:     r.PingSkip,
		Test:         r.Test,
		IgnoreRRD:    r.IgnoreRRD,
	}
}

// AddDeviceResponse is the success body of POST /devices.
type AddDeviceResponse struct {
	Outcome  string         `json:"outcome"`
	DeviceID int64          `json:"device_id,omitempty"`
	Device   *models.Device `json:"device,omitempty"`
}

// BatchAddRequest is the JSON body of POST /devices/batch.
type BatchAddRequest struct {
	Devices []AddDeviceRequest `json:"devices" binding:"required"`
}

// BatchAddEntry is one per-host result of a batch add, in request order.
type BatchAddEntry struct {
	Hostname string `json:"hostname"`
	Outcome  string `json:"outcome,omitempty"`
	DeviceID int64  `json:"device_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (h *Handler) addDevice(c *gin.Context) {
	var req AddDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	res, err := h.service.AddDevice(c.Request.Context(), req.lifecycleRequest())
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if res.Outcome != lifecycle.OutcomeAdded {
		status = http.StatusOK
	}
	c.JSON(status, AddDeviceResponse{
		Outcome:  res.Outcome.String(),
		DeviceID: res.DeviceID,
		Device:   res.Device,
	})
}

func (h *Handler) addBatch(c *gin.Context) {
	var req BatchAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}
	if len(req.Devices) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "empty device list"})
		return
	}

	reqs := make([]lifecycle.AddRequest, len(req.Devices))
	for i, d := range req.Devices {
		reqs[i] = d.lifecycleRequest()
	}

	results := h.pool.Run(c.Request.Context(), reqs)
	entries := make([]BatchAddEntry, len(results))
	for i, r := range results {
		entry := BatchAddEntry{Hostname: r.Request.Hostname}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		} else {
			entry.Outcome = r.Result.Outcome.String()
			entry.DeviceID = r.Result.DeviceID
		}
		entries[i] = entry
	}
	c.JSON(http.StatusMultiStatus, gin.H{"results": entries})
}

// testDevice runs the add workflow in test mode regardless of the request
// body: probe, dedup and fingerprint, but never persist.
func (h *Handler) testDevice(c *gin.Context) {
	var req AddDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	lreq := req.lifecycleRequest()
	lreq.Test = true
	res, err := h.service.AddDevice(c.Request.Context(), lreq)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AddDeviceResponse{Outcome: res.Outcome.String(), Device: res.Device})
}

func (h *Handler) detectAuth(c *gin.Context) {
	var req AddDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	dev, err := h.service.DetectSNMPAuth(c.Request.Context(), req.lifecycleRequest())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dev)
}

func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.service.ListDevices(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

func (h *Handler) getDevice(c *gin.Context) {
	id, ok := h.deviceID(c)
	if !ok {
		return
	}
	dev, err := h.service.GetDevice(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dev)
}

func (h *Handler) deviceStatus(c *gin.Context) {
	id, ok := h.deviceID(c)
	if !ok {
		return
	}
	status, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) deleteDevice(c *gin.Context) {
	id, ok := h.deviceID(c)
	if !ok {
		return
	}
	removeRRD := c.Query("remove_rrd") == "1" || c.Query("remove_rrd") == "true"

	report, err := h.service.DeleteDevice(c.Request.Context(), id, removeRRD)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) deviceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid device id"})
		return 0, false
	}
	return id, true
}

// fail maps the lifecycle failure taxonomy onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case models.IsDuplicate(err),
		errors.Is(err, lifecycle.ErrAlreadyQueued),
		errors.Is(err, lifecycle.ErrRRDConflict):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, lifecycle.ErrInvalidHostname),
		errors.Is(err, models.ErrUnsupportedSNMPVersion),
		errors.Is(err, models.ErrInvalidOID):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, registry.ErrDeviceNotFound),
		errors.Is(err, lifecycle.ErrUnknownPoller):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrDNSFailure),
		errors.Is(err, models.ErrUnreachable),
		errors.Is(err, models.ErrSNMPUnreachable):
		status, code = http.StatusBadGateway, "unreachable"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("api: request failed", "path", c.FullPath(), "error", err.Error())
	}
	c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
