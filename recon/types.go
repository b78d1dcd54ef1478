// Package recon implements the invoice to purchase-order reconciliation engine:
// identifier/date normalization, candidate selection, line-item alignment,
// confidence scoring and discrepancy reporting. The engine is pure computation;
// it owns no database connection and keeps no state between calls.
package recon

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Party struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type InvoiceLineItem struct {
	LineNumber  int             `json:"lineNumber"`
	Description string          `json:"description"`
	Identifier  string          `json:"identifier,omitempty"`
	LotNumber   string          `json:"lotNumber,omitempty"`
	ExpiryDate  string          `json:"expiryDate,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

type InvoiceTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
}

// Invoice is the structured extraction handed to the engine. Dates arrive as
// strings in whatever format the upstream extractor produced; NormalizeDate
// handles the recognized forms. The totals block is a signal for review, the
// engine never enforces items-vs-subtotal agreement.
type Invoice struct {
	InvoiceNumber string            `json:"invoiceNumber" binding:"required"`
	InvoiceDate   string            `json:"invoiceDate,omitempty"`
	PoNumber      string            `json:"poNumber,omitempty"`
	Vendor        Party             `json:"vendor"`
	Customer      Party             `json:"customer"`
	Items         []InvoiceLineItem `json:"items"`
	Totals        InvoiceTotals     `json:"totals"`
}

type PurchaseOrderLineItem struct {
	LineNumber      int             `json:"lineNumber"`
	Identifier      string          `json:"identifier,omitempty"`
	Description     string          `json:"description"`
	QuantityOrdered int             `json:"quantityOrdered"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	LotNumber       string          `json:"lotNumber,omitempty"`
}

// PurchaseOrder as seen by the engine. Id is an opaque handle owned by the
// persistence layer.
type PurchaseOrder struct {
	Id       string                  `json:"id"`
	PoNumber string                  `json:"poNumber"`
	Vendor   Party                   `json:"vendor"`
	Items    []PurchaseOrderLineItem `json:"items"`
}

// LineItemMatch is one row of the final alignment. A nil PoLineRef means the
// invoice line found no counterpart; a nil InvoiceLineRef means the PO line
// found none. References are by line number, never by pointer into the inputs.
type LineItemMatch struct {
	InvoiceLineRef *int              `json:"invoiceLineRef"`
	PoLineRef      *int              `json:"poLineRef"`
	Similarity     float64           `json:"similarity"`
	Issues         []DiscrepancyKind `json:"issues"`
}

type Discrepancy struct {
	Kind           DiscrepancyKind     `json:"kind"`
	Severity       DiscrepancySeverity `json:"severity"`
	InvoiceLineRef *int                `json:"invoiceLineRef,omitempty"`
	PoLineRef      *int                `json:"poLineRef,omitempty"`
	Detail         string              `json:"detail"`
}

type MatchResult struct {
	MatchedPurchaseOrderId *string         `json:"matchedPurchaseOrderId"`
	MatchScore             float64         `json:"matchScore"`
	LineItemMatches        []LineItemMatch `json:"lineItemMatches"`
	Issues                 []Discrepancy   `json:"issues"`
}

func DecodeInvoice(raw []byte) (Invoice, error) {
	var inv Invoice
	err := json.Unmarshal(raw, &inv)
	return inv, err
}

func EncodeMatchResult(result MatchResult) []byte {
	b, _ := json.Marshal(result)
	return b
}

func DecodeMatchResult(raw []byte) (MatchResult, error) {
	var result MatchResult
	err := json.Unmarshal(raw, &result)
	return result, err
}
