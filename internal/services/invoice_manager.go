package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"drainvoice/internal/common"
	"drainvoice/internal/connectivity"
	"drainvoice/internal/logger"
	"drainvoice/internal/models"
	"drainvoice/internal/repositories"
)

// Delivery tells the caller whether a mutation reached the remote store or
// is waiting in the local queue.
type Delivery string

const (
	DeliveryConfirmedOnline Delivery = "confirmed_online"
	DeliveryQueuedOffline   Delivery = "queued_offline"
)

const (
	MessageSavedOnline    = "Invoice saved."
	MessageSavedOffline   = "Invoice saved offline. It will sync when you're back online."
	MessageDeletedOnline  = "Invoice deleted."
	MessageDeletedOffline = "Invoice deleted offline. It will sync when you're back online."
)

// MutationResult is what Save and Delete report back to the UI.
type MutationResult struct {
	ID       string          `json:"id"`
	Delivery Delivery        `json:"delivery"`
	Message  string          `json:"message"`
	Invoice  *models.Invoice `json:"invoice,omitempty"`
}

// Source names the store a listing was served from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// LoadResult is an invoice listing plus where it came from.
type LoadResult struct {
	Invoices []*models.Invoice  `json:"invoices"`
	Next     *models.PageCursor `json:"next,omitempty"`
	Source   Source             `json:"source"`
}

// InvoiceManager is the single entry point for invoice reads and writes. It
// hides the online/offline branching from callers. A nil local store runs
// the manager remote-only.
type InvoiceManager struct {
	local    repositories.LocalStore
	remote   repositories.RemoteStore
	monitor  connectivity.Monitor
	engine   *SyncEngine
	pageSize int
	now      func() time.Time
	log      zerolog.Logger
}

func NewInvoiceManager(local repositories.LocalStore, remote repositories.RemoteStore, monitor connectivity.Monitor, engine *SyncEngine, pageSize int) *InvoiceManager {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &InvoiceManager{
		local:    local,
		remote:   remote,
		monitor:  monitor,
		engine:   engine,
		pageSize: pageSize,
		now:      time.Now,
		log:      logger.WithComponent("invoices"),
	}
}

// OfflineCapable reports whether a local store backs the manager.
func (m *InvoiceManager) OfflineCapable() bool {
	return m.local != nil
}

// Save validates inv and writes it. Online, the remote upsert is attempted
// first; the local write and its queue entry always follow, so a confirmed
// save is replayed once more by the next sync pass.
func (m *InvoiceManager) Save(ctx context.Context, inv *models.Invoice) (*MutationResult, error) {
	prepared, err := m.prepare(inv)
	if err != nil {
		return nil, err
	}
	prepared.LastModified = m.now().UTC()

	delivery := DeliveryQueuedOffline
	if m.monitor.IsOnline() {
		if err := m.remote.UpsertInvoice(ctx, prepared.ID, prepared, true); err != nil {
			m.log.Warn().Err(err).Str("invoice_id", prepared.ID).Msg("Remote save failed; invoice queued for sync")
		} else {
			delivery = DeliveryConfirmedOnline
		}
	}

	if m.local == nil {
		if delivery != DeliveryConfirmedOnline {
			return nil, fmt.Errorf("save invoice %s: %w", prepared.ID, common.ErrStorageUnavailable)
		}
		return &MutationResult{ID: prepared.ID, Delivery: delivery, Message: MessageSavedOnline, Invoice: prepared}, nil
	}

	stored, err := m.local.PutInvoice(ctx, prepared)
	if err != nil {
		if delivery != DeliveryConfirmedOnline {
			return nil, err
		}
		m.log.Error().Err(err).Str("invoice_id", prepared.ID).Msg("Local write failed after remote save")
		stored = prepared
	} else {
		m.rememberClient(ctx, stored)
	}

	message := MessageSavedOffline
	if delivery == DeliveryConfirmedOnline {
		message = MessageSavedOnline
	}
	m.log.Info().Str("invoice_id", stored.ID).Str("delivery", string(delivery)).Msg("Invoice saved")

	return &MutationResult{ID: stored.ID, Delivery: delivery, Message: message, Invoice: stored}, nil
}

// Delete mirrors Save. A missing local record is not an error.
func (m *InvoiceManager) Delete(ctx context.Context, id string) (*MutationResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, common.NewValidationError("id", "id is required")
	}

	delivery := DeliveryQueuedOffline
	if m.monitor.IsOnline() {
		if err := m.remote.DeleteInvoice(ctx, id); err != nil {
			m.log.Warn().Err(err).Str("invoice_id", id).Msg("Remote delete failed; delete queued for sync")
		} else {
			delivery = DeliveryConfirmedOnline
		}
	}

	if m.local == nil {
		if delivery != DeliveryConfirmedOnline {
			return nil, fmt.Errorf("delete invoice %s: %w", id, common.ErrStorageUnavailable)
		}
		return &MutationResult{ID: id, Delivery: delivery, Message: MessageDeletedOnline}, nil
	}

	if err := m.local.DeleteInvoice(ctx, id); err != nil {
		if delivery != DeliveryConfirmedOnline {
			return nil, err
		}
		m.log.Error().Err(err).Str("invoice_id", id).Msg("Local delete failed after remote delete")
	}

	message := MessageDeletedOffline
	if delivery == DeliveryConfirmedOnline {
		message = MessageDeletedOnline
	}
	m.log.Info().Str("invoice_id", id).Str("delivery", string(delivery)).Msg("Invoice deleted")

	return &MutationResult{ID: id, Delivery: delivery, Message: message}, nil
}

// Load returns every invoice. Online it reads the remote store page by page
// and caches each result locally as synced; local changes still queued take
// precedence over the remote copy. Offline, or when the remote read fails,
// it serves the local store.
func (m *InvoiceManager) Load(ctx context.Context) (*LoadResult, error) {
	if m.monitor.IsOnline() {
		invoices, err := m.loadRemote(ctx)
		if err == nil {
			return &LoadResult{Invoices: invoices, Source: SourceRemote}, nil
		}
		if m.local == nil {
			return nil, err
		}
		m.log.Warn().Err(err).Msg("Remote load failed; serving local invoices")
	}
	return m.LoadLocal(ctx)
}

// LoadLocal serves the local store regardless of connectivity.
func (m *InvoiceManager) LoadLocal(ctx context.Context) (*LoadResult, error) {
	if m.local == nil {
		return nil, fmt.Errorf("load invoices: %w", common.ErrStorageUnavailable)
	}
	invoices, err := m.local.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Invoices: invoices, Source: SourceLocal}, nil
}

func (m *InvoiceManager) loadRemote(ctx context.Context) ([]*models.Invoice, error) {
	var (
		all   []*models.Invoice
		after *models.PageCursor
	)
	for {
		page, err := m.remote.ListInvoices(ctx, m.pageSize, after)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Invoices...)
		if page.Next == nil {
			break
		}
		after = page.Next
	}

	if m.local == nil {
		if all == nil {
			all = []*models.Invoice{}
		}
		return all, nil
	}
	return m.overlayLocal(ctx, all)
}

// overlayLocal caches remote invoices and swaps in local versions whose
// changes are still queued. Invoices created offline and not yet synced are
// appended; invoices deleted offline are dropped.
func (m *InvoiceManager) overlayLocal(ctx context.Context, remote []*models.Invoice) ([]*models.Invoice, error) {
	out := make([]*models.Invoice, 0, len(remote))
	seen := make(map[string]bool, len(remote))

	for _, inv := range remote {
		seen[inv.ID] = true
		cached, err := m.local.CacheInvoice(ctx, inv)
		if err != nil {
			m.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("Failed to cache remote invoice")
		}
		if err != nil || cached {
			synced := *inv
			synced.SyncStatus = models.SyncStatusSynced
			out = append(out, &synced)
			continue
		}

		local, err := m.local.GetInvoice(ctx, inv.ID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, local)
	}

	locals, err := m.local.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	for _, inv := range locals {
		if !seen[inv.ID] && inv.SyncStatus == models.SyncStatusPending {
			out = append(out, inv)
		}
	}

	sortInvoices(out)
	return out, nil
}

// LoadPage returns one page ordered by date descending. Remote pages are
// cached like Load; offline the local store is paged instead.
func (m *InvoiceManager) LoadPage(ctx context.Context, pageSize int, after *models.PageCursor) (*LoadResult, error) {
	if pageSize <= 0 {
		pageSize = m.pageSize
	}

	if m.monitor.IsOnline() {
		page, err := m.remote.ListInvoices(ctx, pageSize, after)
		if err == nil {
			if m.local != nil {
				for _, inv := range page.Invoices {
					if _, err := m.local.CacheInvoice(ctx, inv); err != nil {
						m.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("Failed to cache remote invoice")
					}
				}
			}
			return &LoadResult{Invoices: page.Invoices, Next: page.Next, Source: SourceRemote}, nil
		}
		if m.local == nil {
			return nil, err
		}
		m.log.Warn().Err(err).Msg("Remote page load failed; serving local page")
	}

	if m.local == nil {
		return nil, fmt.Errorf("load invoice page: %w", common.ErrStorageUnavailable)
	}
	page, err := m.local.ListInvoicesPage(ctx, pageSize, after)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Invoices: page.Invoices, Next: page.Next, Source: SourceLocal}, nil
}

// Get returns one invoice. A local copy with queued changes wins; otherwise
// the remote store is asked when online, falling back to the local copy when
// the remote store cannot be reached.
func (m *InvoiceManager) Get(ctx context.Context, id string) (*models.Invoice, error) {
	var local *models.Invoice
	if m.local != nil {
		inv, err := m.local.GetInvoice(ctx, id)
		switch {
		case err == nil:
			if inv.SyncStatus == models.SyncStatusPending {
				return inv, nil
			}
			local = inv
		case !errors.Is(err, common.ErrNotFound):
			m.log.Warn().Err(err).Str("invoice_id", id).Msg("Local lookup failed")
		}
	}

	if m.monitor.IsOnline() {
		inv, err := m.remote.GetInvoice(ctx, id)
		if err == nil {
			if m.local != nil {
				if _, err := m.local.CacheInvoice(ctx, inv); err != nil {
					m.log.Warn().Err(err).Str("invoice_id", id).Msg("Failed to cache remote invoice")
				}
			}
			inv.SyncStatus = models.SyncStatusSynced
			return inv, nil
		}
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		m.log.Warn().Err(err).Str("invoice_id", id).Msg("Remote lookup failed; using local copy")
	}

	if local != nil {
		return local, nil
	}
	if m.local == nil && !m.monitor.IsOnline() {
		return nil, fmt.Errorf("get invoice %s: %w", id, common.ErrStorageUnavailable)
	}
	return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
}

// Search filters Load by a case-insensitive substring of the invoice number
// or client name. An empty term returns everything.
func (m *InvoiceManager) Search(ctx context.Context, term string) (*LoadResult, error) {
	result, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	result.Invoices = filterInvoices(result.Invoices, term)
	return result, nil
}

// SearchLocal is Search against the local store only.
func (m *InvoiceManager) SearchLocal(ctx context.Context, term string) (*LoadResult, error) {
	result, err := m.LoadLocal(ctx)
	if err != nil {
		return nil, err
	}
	result.Invoices = filterInvoices(result.Invoices, term)
	return result, nil
}

func filterInvoices(invoices []*models.Invoice, term string) []*models.Invoice {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return invoices
	}
	return lo.Filter(invoices, func(inv *models.Invoice, _ int) bool {
		return strings.Contains(strings.ToLower(inv.InvoiceNumber), term) ||
			strings.Contains(strings.ToLower(inv.ClientName), term)
	})
}

// FindLocal runs an indexed lookup against the local store.
func (m *InvoiceManager) FindLocal(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error) {
	if m.local == nil {
		return nil, fmt.Errorf("find invoices: %w", common.ErrStorageUnavailable)
	}
	if err := common.ValidateDateFormat(filter.From, "from"); err != nil {
		return nil, common.NewValidationError("from", err.Error())
	}
	if err := common.ValidateDateFormat(filter.To, "to"); err != nil {
		return nil, common.NewValidationError("to", err.Error())
	}
	return m.local.FindInvoices(ctx, filter)
}

// Duplicate returns an unsaved copy of id with a fresh identity and today's
// date.
func (m *InvoiceManager) Duplicate(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return inv.CopyAsNew(m.now()), nil
}

// Clients lists the clients remembered from saved invoices.
func (m *InvoiceManager) Clients(ctx context.Context) ([]*models.Client, error) {
	if m.local == nil {
		return []*models.Client{}, nil
	}
	return m.local.ListClients(ctx)
}

// PendingCount is the true number of queued entries.
func (m *InvoiceManager) PendingCount(ctx context.Context) (int, error) {
	if m.local == nil {
		return 0, nil
	}
	return m.local.CountPending(ctx)
}

// Pending lists the queued entries in replay order.
func (m *InvoiceManager) Pending(ctx context.Context) ([]*models.PendingSyncEntry, error) {
	if m.local == nil {
		return []*models.PendingSyncEntry{}, nil
	}
	return m.local.ListPending(ctx)
}

// SyncNow runs a pass immediately. Force also replays entries that are
// still backing off.
func (m *InvoiceManager) SyncNow(ctx context.Context, force bool) (*SyncResult, error) {
	if m.engine == nil {
		return nil, fmt.Errorf("sync: %w", common.ErrStorageUnavailable)
	}
	return m.engine.Sync(ctx, SyncOptions{Force: force})
}

// SyncStatus reports the engine state.
func (m *InvoiceManager) SyncStatus() SyncStatus {
	if m.engine == nil {
		return SyncStatus{Online: m.monitor.IsOnline()}
	}
	return m.engine.Status()
}

// prepare copies inv, fills in its identity and date, recomputes item totals
// and validates the result.
func (m *InvoiceManager) prepare(inv *models.Invoice) (*models.Invoice, error) {
	if inv == nil {
		return nil, common.NewValidationError("invoice", "invoice is required")
	}

	prepared := *inv
	prepared.Items = append([]models.LineItem(nil), inv.Items...)
	prepared.InvoiceNumber = strings.TrimSpace(prepared.InvoiceNumber)
	prepared.ClientName = strings.TrimSpace(prepared.ClientName)
	prepared.ClientGST = strings.ToUpper(strings.TrimSpace(prepared.ClientGST))
	prepared.PANNumber = strings.ToUpper(strings.TrimSpace(prepared.PANNumber))

	prepared.ID = strings.TrimSpace(prepared.ID)
	if prepared.ID == "" {
		prepared.ID = prepared.InvoiceNumber
	}
	if prepared.ID == "" {
		prepared.ID = "temp-" + uuid.NewString()
	}
	if prepared.Date == "" {
		prepared.Date = m.now().Format(models.DateLayout)
	}

	if err := common.ValidateDateFormat(prepared.Date, "date"); err != nil {
		return nil, common.NewValidationError("date", err.Error())
	}
	if err := common.ValidateGSTIN(prepared.ClientGST, "clientGST"); err != nil {
		return nil, common.NewValidationError("clientGST", err.Error())
	}
	for i, item := range prepared.Items {
		field := fmt.Sprintf("items[%d]", i)
		if item.Price < 0 {
			return nil, common.NewValidationError(field+".price", "price must not be negative")
		}
		if item.Quantity < 0 {
			return nil, common.NewValidationError(field+".quantity", "quantity must not be negative")
		}
	}

	prepared.RecalculateTotals()
	return &prepared, nil
}

// rememberClient keeps the client details of a saved invoice for reuse.
func (m *InvoiceManager) rememberClient(ctx context.Context, inv *models.Invoice) {
	if inv.ClientName == "" {
		return
	}
	client := &models.Client{
		ID:      strings.ToLower(inv.ClientName),
		Name:    inv.ClientName,
		Address: inv.ClientAddress,
		GST:     inv.ClientGST,
	}
	if err := m.local.PutClient(ctx, client); err != nil {
		m.log.Warn().Err(err).Str("client", inv.ClientName).Msg("Failed to remember client")
	}
}

func sortInvoices(invoices []*models.Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if invoices[i].Date != invoices[j].Date {
			return invoices[i].Date > invoices[j].Date
		}
		return invoices[i].ID > invoices[j].ID
	})
}
