package models

import (
	"time"

	"github.com/samber/lo"
)

// SyncStatus tracks whether a locally stored invoice has reached the remote store.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
)

// DateLayout is the layout of Invoice.Date.
const DateLayout = "2006-01-02"

// Invoice is the invoice document shared by the local store, the remote
// store and the web client. JSON keys match the documents the client writes.
type Invoice struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoiceNumber"`
	Date          string     `json:"date"`
	PANNumber     string     `json:"panNumber"`
	ClientName    string     `json:"clientName"`
	ClientAddress string     `json:"clientAddress"`
	ClientGST     string     `json:"clientGST"`
	Note          string     `json:"note"`
	Items         []LineItem `json:"items"`
	BrandInvoice  bool       `json:"brandInvoice"`
	LastModified  time.Time  `json:"lastModified,omitempty"`
	SyncStatus    SyncStatus `json:"syncStatus,omitempty"`
}

// LineItem is a single row of an invoice. Total is stored, not derived on
// read, so every mutation of Quantity or Price must go through SetQuantity,
// SetPrice or Invoice.RecalculateTotals.
type LineItem struct {
	SNo      int     `json:"sno"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Total    float64 `json:"total"`
}

// SetQuantity updates the quantity and the stored total.
func (li *LineItem) SetQuantity(quantity int) {
	li.Quantity = quantity
	li.recompute()
}

// SetPrice updates the unit price and the stored total.
func (li *LineItem) SetPrice(price float64) {
	li.Price = price
	li.recompute()
}

func (li *LineItem) recompute() {
	li.Total = float64(li.Quantity) * li.Price
}

// RecalculateTotals recomputes every item total and renumbers items 1..n.
func (inv *Invoice) RecalculateTotals() {
	for i := range inv.Items {
		inv.Items[i].SNo = i + 1
		inv.Items[i].recompute()
	}
}

// AddItem appends an empty line item with quantity 1.
func (inv *Invoice) AddItem() *LineItem {
	inv.Items = append(inv.Items, LineItem{
		SNo:      len(inv.Items) + 1,
		Quantity: 1,
	})
	return &inv.Items[len(inv.Items)-1]
}

// RemoveItem drops the item at index and reassigns sequence numbers.
// Out of range indexes are ignored.
func (inv *Invoice) RemoveItem(index int) {
	if index < 0 || index >= len(inv.Items) {
		return
	}
	inv.Items = append(inv.Items[:index], inv.Items[index+1:]...)
	for i := range inv.Items {
		inv.Items[i].SNo = i + 1
	}
}

// GrandTotal sums the stored item totals.
func (inv *Invoice) GrandTotal() float64 {
	return lo.SumBy(inv.Items, func(item LineItem) float64 {
		return item.Total
	})
}

// CopyAsNew returns a copy that can be edited and saved as a different
// invoice: identity and number are cleared and the date is set to today.
func (inv *Invoice) CopyAsNew(today time.Time) *Invoice {
	cp := *inv
	cp.ID = ""
	cp.InvoiceNumber = ""
	cp.Date = today.Format(DateLayout)
	cp.Items = append([]LineItem(nil), inv.Items...)
	cp.LastModified = time.Time{}
	cp.SyncStatus = ""
	return &cp
}

// RemoteDocument strips local-only sync metadata before a remote write.
func (inv *Invoice) RemoteDocument() *Invoice {
	cp := *inv
	cp.SyncStatus = ""
	return &cp
}
