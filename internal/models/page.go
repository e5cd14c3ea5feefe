package models

// PageCursor marks the last invoice of a page. Listings are ordered by date
// descending then id descending, and the next page starts strictly after it.
type PageCursor struct {
	Date string `json:"date"`
	ID   string `json:"id"`
}

// InvoicePage is one page of a date-ordered invoice listing. Next is nil on
// the last page.
type InvoicePage struct {
	Invoices []*Invoice  `json:"invoices"`
	Next     *PageCursor `json:"next,omitempty"`
}

// CursorOf returns the cursor pointing after inv.
func CursorOf(inv *Invoice) *PageCursor {
	return &PageCursor{Date: inv.Date, ID: inv.ID}
}

// InvoiceFilter narrows a local lookup. Empty fields are ignored; Number and
// ClientName match as prefixes, From and To bound Date inclusively.
type InvoiceFilter struct {
	Number     string
	ClientName string
	From       string
	To         string
}
