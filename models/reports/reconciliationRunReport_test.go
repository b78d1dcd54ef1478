package reports_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/models/reports"
	"bitbucket.org/mmdatafocus/recon_backend/recon"
)

func lineRef(v int) *int { return &v }

func buildStoredRun(t *testing.T) *models.ReconciliationRun {
	t.Helper()
	matchedId := "7"
	result := recon.MatchResult{
		MatchedPurchaseOrderId: &matchedId,
		MatchScore:             0.9642,
		LineItemMatches: []recon.LineItemMatch{
			{InvoiceLineRef: lineRef(1), PoLineRef: lineRef(1), Similarity: 0.9917, Issues: []recon.DiscrepancyKind{recon.DiscrepancyQuantityMismatch}},
		},
		Issues: []recon.Discrepancy{
			{Kind: recon.DiscrepancyQuantityMismatch, Severity: recon.SeverityWarning, InvoiceLineRef: lineRef(1), PoLineRef: lineRef(1), Detail: "invoiced 50, purchase order line 1 ordered 48"},
		},
	}
	invoice := recon.Invoice{
		InvoiceNumber: "INV-1001",
		InvoiceDate:   "2026-08-10",
		Vendor:        recon.Party{Name: "McKesson Pharmaceutical"},
	}
	run, err := models.BuildReconciliationRun("run-xlsx-1", invoice, result, "corr-1")
	if err != nil {
		t.Fatalf("BuildReconciliationRun: %v", err)
	}
	return run
}

func TestBuildReconciliationRunWorkbook(t *testing.T) {
	run := buildStoredRun(t)

	f, err := reports.BuildReconciliationRunWorkbook(run)
	if err != nil {
		t.Fatalf("BuildReconciliationRunWorkbook: %v", err)
	}

	sheets := f.GetSheetList()
	wantSheets := map[string]bool{"Summary": false, "Discrepancies": false, "LineMatches": false}
	for _, sheet := range sheets {
		if _, ok := wantSheets[sheet]; ok {
			wantSheets[sheet] = true
		}
	}
	for sheet, found := range wantSheets {
		if !found {
			t.Errorf("sheet %q missing, got %v", sheet, sheets)
		}
	}

	invoiceNumber, err := f.GetCellValue("Summary", "B2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if invoiceNumber != "INV-1001" {
		t.Errorf("Summary!B2 = %q, want INV-1001", invoiceNumber)
	}

	kind, err := f.GetCellValue("Discrepancies", "A2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if kind != "quantity-mismatch" {
		t.Errorf("Discrepancies!A2 = %q, want quantity-mismatch", kind)
	}

	detail, err := f.GetCellValue("Discrepancies", "E2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if detail != "invoiced 50, purchase order line 1 ordered 48" {
		t.Errorf("Discrepancies!E2 = %q", detail)
	}
}

func TestBuildReconciliationRunWorkbookRejectedRun(t *testing.T) {
	invoice := recon.Invoice{InvoiceNumber: "  ", Vendor: recon.Party{Name: "McKesson Pharmaceutical"}}
	run, err := models.BuildRejectedReconciliationRun("run-xlsx-2", invoice, errors.New("invoice rejected: invoiceNumber must not be blank"), "corr-2")
	if err != nil {
		t.Fatalf("BuildRejectedReconciliationRun: %v", err)
	}

	f, err := reports.BuildReconciliationRunWorkbook(run)
	if err != nil {
		t.Fatalf("BuildReconciliationRunWorkbook: %v", err)
	}

	for _, sheet := range f.GetSheetList() {
		if sheet == "Discrepancies" || sheet == "LineMatches" {
			t.Errorf("rejected run should not render sheet %q", sheet)
		}
	}

	status, err := f.GetCellValue("Summary", "B5")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if status != "REJECTED" {
		t.Errorf("Summary!B5 = %q, want REJECTED", status)
	}
}
