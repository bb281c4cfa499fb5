package scanning

import (
	"strings"

	"github.com/zombor/receipt-ledger/internal/category"
)

// LineItem is one purchased line on a receipt
type LineItem struct {
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// Record is the canonical receipt extracted by every pipeline path.
// Unknown fields stay nil rather than zero so callers can tell "missing"
// from "zero".
type Record struct {
	Merchant    *string           `json:"store_name"`
	Date        *string           `json:"date"` // YYYY-MM-DD
	TotalAmount *float64          `json:"total_amount"`
	Category    category.Category `json:"category"`
	IsIncome    bool              `json:"is_income"`
	Items       []LineItem        `json:"items"`
	RawText     string            `json:"raw_text,omitempty"`
	// TextOnly marks a partial record: text was transcribed but could not be
	// structured.
	TextOnly bool `json:"text_only"`
}

// NewRecord returns an empty record with the default category.
func NewRecord() *Record {
	return &Record{Category: category.Other, Items: []LineItem{}}
}

// Finalize enforces the record invariants before it leaves the pipeline:
// items with an empty name are dropped, quantities are at least 1, prices and
// the total are never negative, the category is a taxonomy member and Items
// is never nil.
func (r *Record) Finalize() *Record {
	items := make([]LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			continue
		}
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		if it.UnitPrice < 0 {
			it.UnitPrice = 0
		}
		if it.TotalPrice < 0 {
			it.TotalPrice = 0
		}
		items = append(items, it)
	}
	r.Items = items

	if r.TotalAmount != nil && *r.TotalAmount < 0 {
		r.TotalAmount = nil
	}
	if r.Merchant != nil && strings.TrimSpace(*r.Merchant) == "" {
		r.Merchant = nil
	}
	if !r.Category.Valid() {
		r.Category = category.Other
	}
	return r
}

// HasReceiptFields reports whether at least one of merchant, date, total or
// items was recovered.
func (r *Record) HasReceiptFields() bool {
	return r.Merchant != nil || r.Date != nil || r.TotalAmount != nil || len(r.Items) > 0
}

// ItemNames returns the names of the record's line items.
func (r *Record) ItemNames() []string {
	names := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		names = append(names, it.Name)
	}
	return names
}

// ApplyCategory runs the classifier when the record has no specific category.
// A category chosen by the backend is left alone.
func (r *Record) ApplyCategory(c *category.Classifier) {
	if c == nil || !r.Category.IsGeneric() {
		return
	}
	merchant := ""
	if r.Merchant != nil {
		merchant = *r.Merchant
	}
	r.Category = c.Classify(merchant, r.RawText, r.ItemNames())
	if r.Category.IsIncome() {
		r.IsIncome = true
	}
}

func stringPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
