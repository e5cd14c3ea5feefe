package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"drainvoice/internal/common"
	"drainvoice/internal/services"
)

// ConnectivitySwitch is the host connectivity signal as seen by the API.
type ConnectivitySwitch interface {
	IsOnline() bool
	SetOnline(online bool) bool
}

// SyncHandlers exposes the pending queue, sync passes and the connectivity
// signal.
type SyncHandlers struct {
	invoices     InvoiceService
	connectivity ConnectivitySwitch
}

func NewSyncHandlers(invoices InvoiceService, connectivity ConnectivitySwitch) *SyncHandlers {
	return &SyncHandlers{invoices: invoices, connectivity: connectivity}
}

// SyncStatusResponse is returned by GET /sync/status
type SyncStatusResponse struct {
	services.SyncStatus
	Pending int `json:"pending"`
}

// TriggerSync handles POST /sync
func (h *SyncHandlers) TriggerSync(c echo.Context) error {
	force := false
	if raw := c.QueryParam("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return common.SendValidationError(c, "force", "force must be a boolean")
		}
		force = parsed
	}

	result, err := h.invoices.SyncNow(c.Request().Context(), force)
	if err != nil {
		return common.SendError(c, "sync", err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetSyncStatus handles GET /sync/status
func (h *SyncHandlers) GetSyncStatus(c echo.Context) error {
	pending, err := h.invoices.PendingCount(c.Request().Context())
	if err != nil {
		return common.SendError(c, "sync status", err)
	}
	return c.JSON(http.StatusOK, SyncStatusResponse{
		SyncStatus: h.invoices.SyncStatus(),
		Pending:    pending,
	})
}

// ListPending handles GET /sync/pending
func (h *SyncHandlers) ListPending(c echo.Context) error {
	entries, err := h.invoices.Pending(c.Request().Context())
	if err != nil {
		return common.SendError(c, "pending entries", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetConnectivity handles GET /connectivity
func (h *SyncHandlers) GetConnectivity(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{
		"online": h.connectivity.IsOnline(),
	})
}

// SetConnectivity handles PUT /connectivity
// The host reports link changes here; going online starts a sync pass.
func (h *SyncHandlers) SetConnectivity(c echo.Context) error {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	if req.Online == nil {
		return common.SendValidationError(c, "online", "online is required")
	}

	changed := h.connectivity.SetOnline(*req.Online)
	return c.JSON(http.StatusOK, map[string]bool{
		"online":  *req.Online,
		"changed": changed,
	})
}
