package recon

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeSource struct {
	byId        map[string]PurchaseOrder
	search      []PurchaseOrder
	loadErr     error
	searchErr   error
	loadCalls   int
	searchCalls int
}

func (s *fakeSource) LoadPurchaseOrders(ctx context.Context, ids []string) ([]PurchaseOrder, error) {
	s.loadCalls++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]PurchaseOrder, 0, len(ids))
	for _, id := range ids {
		if po, ok := s.byId[id]; ok {
			out = append(out, po)
		}
	}
	return out, nil
}

func (s *fakeSource) FindPurchaseOrdersByNumberOrVendor(ctx context.Context, poNumber string, vendorName string) ([]PurchaseOrder, error) {
	s.searchCalls++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.search, nil
}

func cleanInvoice() Invoice {
	item := invLine(1, "55150-0188-10", "A2204", 48, "23.79")
	item.ExpiryDate = "2027-05-31"
	return Invoice{
		InvoiceNumber: "INV-1001",
		InvoiceDate:   "2026-08-10",
		PoNumber:      "PO-7781",
		Vendor:        Party{Name: "McKesson Pharmaceutical"},
		Customer:      Party{Name: "Main Street Pharmacy"},
		Items:         []InvoiceLineItem{item},
		Totals: InvoiceTotals{
			Subtotal: item.TotalPrice,
			Total:    item.TotalPrice,
		},
	}
}

func cleanPurchaseOrder() PurchaseOrder {
	return PurchaseOrder{
		Id:       "po-1",
		PoNumber: "PO-7781",
		Vendor:   Party{Name: "McKesson Pharmaceutical"},
		Items:    []PurchaseOrderLineItem{poLine(1, "55150-0188-10", "A2204", 48, "23.79")},
	}
}

func TestReconcileCleanSingleLineMatch(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{byId: map[string]PurchaseOrder{"po-1": cleanPurchaseOrder()}}

	result, err := Reconcile(context.Background(), cfg, src, cleanInvoice(), []string{"po-1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.MatchedPurchaseOrderId == nil || *result.MatchedPurchaseOrderId != "po-1" {
		t.Fatalf("expected matched po-1, got %v", result.MatchedPurchaseOrderId)
	}
	if result.MatchScore < 0.95 {
		t.Fatalf("expected score >= 0.95, got %v", result.MatchScore)
	}
	if len(result.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", result.Issues)
	}
	if len(result.LineItemMatches) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.LineItemMatches))
	}
	row := result.LineItemMatches[0]
	if row.InvoiceLineRef == nil || row.PoLineRef == nil || !almost(row.Similarity, 1) {
		t.Fatalf("expected a clean pair, got %+v", row)
	}
}

func TestReconcileQuantityDriftWarns(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{byId: map[string]PurchaseOrder{"po-1": cleanPurchaseOrder()}}
	invoice := cleanInvoice()
	invoice.Items[0].Quantity = 50

	result, err := Reconcile(context.Background(), cfg, src, invoice, []string{"po-1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.MatchedPurchaseOrderId == nil {
		t.Fatalf("two units of drift should still match, got %+v", result)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", result.Issues)
	}
	issue := result.Issues[0]
	if issue.Kind != DiscrepancyQuantityMismatch || issue.Severity != SeverityWarning {
		t.Fatalf("expected quantity-mismatch warning, got %+v", issue)
	}
	if *issue.InvoiceLineRef != 1 || *issue.PoLineRef != 1 {
		t.Fatalf("expected line refs (1,1), got %+v", issue)
	}
}

func TestReconcileNoCandidatesIsNormalResult(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{}
	invoice := cleanInvoice()
	invoice.PoNumber = ""

	result, err := Reconcile(context.Background(), cfg, src, invoice, nil)
	if err != nil {
		t.Fatalf("no candidates must not error: %v", err)
	}
	if src.searchCalls != 1 {
		t.Fatalf("expected one fallback lookup, got %d", src.searchCalls)
	}
	if result.MatchedPurchaseOrderId != nil {
		t.Fatalf("expected nil match, got %v", *result.MatchedPurchaseOrderId)
	}
	if result.MatchScore != 0 {
		t.Fatalf("expected zero score, got %v", result.MatchScore)
	}
	if result.LineItemMatches == nil || len(result.LineItemMatches) != 0 {
		t.Fatalf("expected empty line matches, got %+v", result.LineItemMatches)
	}
	if len(result.Issues) != 1 || result.Issues[0].Kind != DiscrepancyNoConfidentMatch {
		t.Fatalf("expected a single no-confident-match issue, got %+v", result.Issues)
	}
	if result.Issues[0].Severity != SeverityWarning {
		t.Fatalf("expected warning severity, got %s", result.Issues[0].Severity)
	}

	encoded := string(EncodeMatchResult(result))
	if !strings.Contains(encoded, `"matchedPurchaseOrderId":null`) {
		t.Fatalf("wire format lost the null match id: %s", encoded)
	}
	if !strings.Contains(encoded, `"lineItemMatches":[]`) {
		t.Fatalf("wire format lost the empty match list: %s", encoded)
	}
}

func TestReconcileExtraPoLineSurfacesOnce(t *testing.T) {
	cfg := reconTestConfig()

	invoice := cleanInvoice()
	second := invLine(2, "00093-7146-56", "B8812", 24, "8.50")
	invoice.Items = append(invoice.Items, second)

	po := cleanPurchaseOrder()
	po.Items = append(po.Items,
		poLine(2, "00093-7146-56", "B8812", 24, "8.50"),
		poLine(3, "68180-0513-01", "", 500, "99.99"),
	)
	src := &fakeSource{byId: map[string]PurchaseOrder{"po-1": po}}

	result, err := Reconcile(context.Background(), cfg, src, invoice, []string{"po-1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.MatchedPurchaseOrderId == nil {
		t.Fatalf("expected a confident match, got %+v", result)
	}
	if len(result.LineItemMatches) != 3 {
		t.Fatalf("expected 2 pairs plus 1 leftover row, got %d", len(result.LineItemMatches))
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", result.Issues)
	}
	issue := result.Issues[0]
	if issue.Kind != DiscrepancyUnmatchedPoLine || *issue.PoLineRef != 3 {
		t.Fatalf("expected unmatched-po-line for line 3, got %+v", issue)
	}
	for _, got := range result.Issues {
		if got.Kind == DiscrepancyUnmatchedInvoiceLine {
			t.Fatalf("no invoice line should be unmatched, got %+v", result.Issues)
		}
	}
}

func TestReconcileExpiredLotIndependentOfMatch(t *testing.T) {
	cfg := reconTestConfig()

	// Matched cleanly, lot still expired.
	src := &fakeSource{byId: map[string]PurchaseOrder{"po-1": cleanPurchaseOrder()}}
	invoice := cleanInvoice()
	invoice.Items[0].ExpiryDate = "2024-01-31"

	result, err := Reconcile(context.Background(), cfg, src, invoice, []string{"po-1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.MatchedPurchaseOrderId == nil {
		t.Fatalf("expiry must not block matching, got %+v", result)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", result.Issues)
	}
	if result.Issues[0].Kind != DiscrepancyLotExpired || result.Issues[0].Severity != SeverityError {
		t.Fatalf("expected lot-expired error, got %+v", result.Issues[0])
	}

	// Same invoice with no candidates at all: expiry is still reported.
	invoice.PoNumber = ""
	result, err = Reconcile(context.Background(), cfg, &fakeSource{}, invoice, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(result.Issues) != 2 {
		t.Fatalf("expected header plus lot-expired, got %+v", result.Issues)
	}
	if result.Issues[0].Kind != DiscrepancyNoConfidentMatch || result.Issues[1].Kind != DiscrepancyLotExpired {
		t.Fatalf("expected order [no-confident-match, lot-expired], got %+v", result.Issues)
	}
}

func TestReconcileBelowThresholdKeepsBestAttempt(t *testing.T) {
	cfg := reconTestConfig()
	po := PurchaseOrder{
		Id:       "po-9",
		PoNumber: "PO-0042",
		Vendor:   Party{Name: "Cardinal Health"},
		Items:    []PurchaseOrderLineItem{poLine(1, "68180-0513-01", "", 500, "99.99")},
	}
	po.Items[0].Description = "Amlodipine 5mg Capsules"
	src := &fakeSource{byId: map[string]PurchaseOrder{"po-9": po}}

	result, err := Reconcile(context.Background(), cfg, src, cleanInvoice(), []string{"po-9"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.MatchedPurchaseOrderId != nil {
		t.Fatalf("expected no confident match, got %v", *result.MatchedPurchaseOrderId)
	}
	if result.MatchScore <= 0 || result.MatchScore >= cfg.ConfidenceThreshold {
		t.Fatalf("expected best score in (0, threshold), got %v", result.MatchScore)
	}
	if len(result.LineItemMatches) != 2 {
		t.Fatalf("best attempt detail should be kept, got %+v", result.LineItemMatches)
	}
	wantKinds := []DiscrepancyKind{
		DiscrepancyNoConfidentMatch,
		DiscrepancyUnmatchedInvoiceLine,
		DiscrepancyUnmatchedPoLine,
	}
	if len(result.Issues) != len(wantKinds) {
		t.Fatalf("expected %d issues, got %+v", len(wantKinds), result.Issues)
	}
	for i, kind := range wantKinds {
		if result.Issues[i].Kind != kind {
			t.Fatalf("issue %d: expected %s, got %s", i, kind, result.Issues[i].Kind)
		}
	}
}

func TestReconcileRejectsMalformedInvoiceUpfront(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{}

	invoice := cleanInvoice()
	invoice.InvoiceNumber = "  "
	invoice.Items[0].Quantity = -3

	_, err := Reconcile(context.Background(), cfg, src, invoice, []string{"po-1"})
	if err == nil {
		t.Fatalf("expected an input error")
	}
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InputError, got %T: %v", err, err)
	}
	if len(inputErr.Violations) != 2 {
		t.Fatalf("expected both violations collected, got %v", inputErr.Violations)
	}
	if src.loadCalls != 0 || src.searchCalls != 0 {
		t.Fatalf("rejected invoice must not reach the candidate source")
	}
}

func TestReconcileSourceFailureSurfaces(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{loadErr: errors.New("connection refused")}

	_, err := Reconcile(context.Background(), cfg, src, cleanInvoice(), []string{"po-1"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestReconcileInvalidConfigRejected(t *testing.T) {
	cfg := reconTestConfig()
	cfg.IdentifierWeight = 0.9

	_, err := Reconcile(context.Background(), cfg, &fakeSource{}, cleanInvoice(), nil)
	if err == nil || !strings.Contains(err.Error(), "weights sum") {
		t.Fatalf("expected weight validation failure, got %v", err)
	}
}
