package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToReconPurchaseOrderSortsDetailsByLineNumber(t *testing.T) {
	po := &PurchaseOrder{
		ID:         42,
		PoNumber:   "PO-7781",
		VendorName: "McKesson Pharmaceutical",
		Details: []PurchaseOrderDetail{
			{LineNumber: 3, Identifier: "68180-0513-01", Description: "Lisinopril 10mg Tablets", DetailQty: 500, DetailUnitRate: decimal.RequireFromString("99.99")},
			{LineNumber: 1, Identifier: "55150-0188-10", Description: "Atorvastatin 20mg Tablets", DetailQty: 48, DetailUnitRate: decimal.RequireFromString("23.79"), BatchNumber: "A2204"},
			{LineNumber: 2, Identifier: "00093-7146-56", Description: "Metformin 500mg Tablets", DetailQty: 24, DetailUnitRate: decimal.RequireFromString("8.50")},
		},
	}

	got := ToReconPurchaseOrder(po)

	if got.Id != "42" {
		t.Fatalf("Id = %q, want \"42\"", got.Id)
	}
	if got.PoNumber != "PO-7781" {
		t.Fatalf("PoNumber = %q", got.PoNumber)
	}
	if got.Vendor.Name != "McKesson Pharmaceutical" {
		t.Fatalf("Vendor.Name = %q", got.Vendor.Name)
	}
	if len(got.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(got.Items))
	}
	for i, wantLine := range []int{1, 2, 3} {
		if got.Items[i].LineNumber != wantLine {
			t.Errorf("Items[%d].LineNumber = %d, want %d", i, got.Items[i].LineNumber, wantLine)
		}
	}
	first := got.Items[0]
	if first.Identifier != "55150-0188-10" {
		t.Errorf("Items[0].Identifier = %q", first.Identifier)
	}
	if first.QuantityOrdered != 48 {
		t.Errorf("Items[0].QuantityOrdered = %d, want 48", first.QuantityOrdered)
	}
	if !first.UnitPrice.Equal(decimal.RequireFromString("23.79")) {
		t.Errorf("Items[0].UnitPrice = %s, want 23.79", first.UnitPrice)
	}
	if first.LotNumber != "A2204" {
		t.Errorf("Items[0].LotNumber = %q, want A2204", first.LotNumber)
	}

	// converting must not reorder the stored details
	if po.Details[0].LineNumber != 3 {
		t.Errorf("stored details were reordered, Details[0].LineNumber = %d", po.Details[0].LineNumber)
	}
}

func TestFirstVendorTokenExtractsLeadingWord(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"McKesson Pharmaceutical", "McKesson"},
		{"  Cardinal-Health Inc.", "Cardinal-Health"},
		{"A&B Distributors", "A"},
		{"O'Brien Medical Supply", "O'Brien"},
		{"AmerisourceBergen", "AmerisourceBergen"},
		{"", ""},
		{"###", "###"},
	}
	for _, tc := range cases {
		if got := firstVendorToken(tc.in); got != tc.want {
			t.Errorf("firstVendorToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
