package models

// Client holds the details remembered from saved invoices for reuse.
type Client struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	GST     string `json:"gst"`
}
