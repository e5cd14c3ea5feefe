package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"drainvoice/internal/common"
	"drainvoice/internal/models"
	"drainvoice/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// InvoiceService is the invoice facade the HTTP layer drives.
type InvoiceService interface {
	Save(ctx context.Context, inv *models.Invoice) (*services.MutationResult, error)
	Delete(ctx context.Context, id string) (*services.MutationResult, error)
	Search(ctx context.Context, term string) (*services.LoadResult, error)
	SearchLocal(ctx context.Context, term string) (*services.LoadResult, error)
	LoadPage(ctx context.Context, pageSize int, after *models.PageCursor) (*services.LoadResult, error)
	Get(ctx context.Context, id string) (*models.Invoice, error)
	FindLocal(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error)
	Duplicate(ctx context.Context, id string) (*models.Invoice, error)
	Clients(ctx context.Context) ([]*models.Client, error)
	PendingCount(ctx context.Context) (int, error)
	Pending(ctx context.Context) ([]*models.PendingSyncEntry, error)
	SyncNow(ctx context.Context, force bool) (*services.SyncResult, error)
	SyncStatus() services.SyncStatus
}

// InvoiceHandlers handles HTTP requests for invoices
type InvoiceHandlers struct {
	invoices InvoiceService
}

func NewInvoiceHandlers(invoices InvoiceService) *InvoiceHandlers {
	return &InvoiceHandlers{invoices: invoices}
}

// ListInvoices handles GET /invoices
// ?q= filters by invoice number or client name, ?source=local skips the
// remote store.
func (h *InvoiceHandlers) ListInvoices(c echo.Context) error {
	ctx := c.Request().Context()
	term := c.QueryParam("q")

	var (
		result *services.LoadResult
		err    error
	)
	switch c.QueryParam("source") {
	case "", "auto":
		result, err = h.invoices.Search(ctx, term)
	case "local":
		result, err = h.invoices.SearchLocal(ctx, term)
	default:
		return common.SendValidationError(c, "source", "source must be 'local' or omitted")
	}
	if err != nil {
		return common.SendError(c, "invoices", err)
	}

	return c.JSON(http.StatusOK, result)
}

// ListInvoicePage handles GET /invoices/page
func (h *InvoiceHandlers) ListInvoicePage(c echo.Context) error {
	size := defaultPageSize
	if raw := c.QueryParam("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return common.SendValidationError(c, "size", "size must be a number")
		}
		size = common.ValidatePageSize(parsed, defaultPageSize, maxPageSize)
	}

	afterDate, afterID := c.QueryParam("after_date"), c.QueryParam("after_id")
	var after *models.PageCursor
	if afterDate != "" || afterID != "" {
		if afterDate == "" || afterID == "" {
			return common.SendClientError(c, "after_date and after_id must be given together")
		}
		if err := common.ValidateDateFormat(afterDate, "after_date"); err != nil {
			return common.SendValidationError(c, "after_date", err.Error())
		}
		after = &models.PageCursor{Date: afterDate, ID: afterID}
	}

	result, err := h.invoices.LoadPage(c.Request().Context(), size, after)
	if err != nil {
		return common.SendError(c, "invoices", err)
	}

	return c.JSON(http.StatusOK, result)
}

// FindLocalInvoices handles GET /invoices/local
func (h *InvoiceHandlers) FindLocalInvoices(c echo.Context) error {
	filter := models.InvoiceFilter{
		Number:     c.QueryParam("number"),
		ClientName: c.QueryParam("client"),
		From:       c.QueryParam("from"),
		To:         c.QueryParam("to"),
	}

	invoices, err := h.invoices.FindLocal(c.Request().Context(), filter)
	if err != nil {
		return common.SendError(c, "invoices", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// GetInvoice handles GET /invoices/:id
func (h *InvoiceHandlers) GetInvoice(c echo.Context) error {
	inv, err := h.invoices.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return common.SendError(c, "invoice", err)
	}
	return c.JSON(http.StatusOK, inv)
}

// CreateInvoice handles POST /invoices
func (h *InvoiceHandlers) CreateInvoice(c echo.Context) error {
	var inv models.Invoice
	if err := c.Bind(&inv); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}

	result, err := h.invoices.Save(c.Request().Context(), &inv)
	if err != nil {
		return common.SendError(c, "invoice", err)
	}

	status := http.StatusAccepted
	if result.Delivery == services.DeliveryConfirmedOnline {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}

// UpdateInvoice handles PUT /invoices/:id
func (h *InvoiceHandlers) UpdateInvoice(c echo.Context) error {
	var inv models.Invoice
	if err := c.Bind(&inv); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	inv.ID = c.Param("id")

	result, err := h.invoices.Save(c.Request().Context(), &inv)
	if err != nil {
		return common.SendError(c, "invoice", err)
	}

	return c.JSON(mutationStatus(result), result)
}

// DeleteInvoice handles DELETE /invoices/:id
func (h *InvoiceHandlers) DeleteInvoice(c echo.Context) error {
	result, err := h.invoices.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return common.SendError(c, "invoice", err)
	}

	return c.JSON(mutationStatus(result), result)
}

// DuplicateInvoice handles POST /invoices/:id/duplicate
// The copy is returned as an unsaved draft.
func (h *InvoiceHandlers) DuplicateInvoice(c echo.Context) error {
	draft, err := h.invoices.Duplicate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return common.SendError(c, "invoice", err)
	}
	return c.JSON(http.StatusOK, draft)
}

// ListClients handles GET /clients
func (h *InvoiceHandlers) ListClients(c echo.Context) error {
	clients, err := h.invoices.Clients(c.Request().Context())
	if err != nil {
		return common.SendError(c, "clients", err)
	}
	return c.JSON(http.StatusOK, clients)
}

// mutationStatus is 200 for confirmed writes and 202 for queued ones.
func mutationStatus(result *services.MutationResult) int {
	if result.Delivery == services.DeliveryConfirmedOnline {
		return http.StatusOK
	}
	return http.StatusAccepted
}
