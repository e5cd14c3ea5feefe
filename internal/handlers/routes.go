package handlers

import (
	"github.com/labstack/echo/v4"

	"drainvoice/internal/middleware"
)

// RegisterRoutes mounts the health endpoints and the /v1 API on e.
func RegisterRoutes(e *echo.Echo, vm *middleware.VersionMiddleware, invoices *InvoiceHandlers, syncs *SyncHandlers, health *HealthHandlers) {
	e.GET("/health", health.HealthCheck)
	e.GET("/health/live", health.LivenessCheck)
	e.GET("/health/ready", health.ReadinessCheck)
	e.GET("/health/detailed", health.DetailedHealthCheck)

	v1 := vm.VersionRoute(e, "v1")

	v1.GET("/invoices", invoices.ListInvoices)
	v1.POST("/invoices", invoices.CreateInvoice)
	v1.GET("/invoices/page", invoices.ListInvoicePage)
	v1.GET("/invoices/local", invoices.FindLocalInvoices)
	v1.GET("/invoices/:id", invoices.GetInvoice)
	v1.PUT("/invoices/:id", invoices.UpdateInvoice)
	v1.DELETE("/invoices/:id", invoices.DeleteInvoice)
	v1.POST("/invoices/:id/duplicate", invoices.DuplicateInvoice)
	v1.GET("/clients", invoices.ListClients)

	v1.POST("/sync", syncs.TriggerSync)
	v1.GET("/sync/status", syncs.GetSyncStatus)
	v1.GET("/sync/pending", syncs.ListPending)
	v1.GET("/connectivity", syncs.GetConnectivity)
	v1.PUT("/connectivity", syncs.SetConnectivity)
}
