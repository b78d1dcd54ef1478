package recon

import (
	"context"
	"fmt"
	"testing"
)

func TestSelectCandidatesExplicitIdsKeepCallerOrder(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{byId: map[string]PurchaseOrder{
		"po-1": {Id: "po-1"},
		"po-2": {Id: "po-2"},
	}}
	invoice := cleanInvoice()

	got, err := SelectCandidates(context.Background(), cfg, src, invoice, []string{"po-2", "po-missing", "po-1", "po-2"})
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	if len(got) != 2 || got[0].Id != "po-2" || got[1].Id != "po-1" {
		t.Fatalf("expected [po-2 po-1], got %+v", got)
	}
	if src.searchCalls != 0 {
		t.Fatalf("explicit ids must skip the fallback search")
	}
}

func TestSelectCandidatesFallbackRanksExactPoNumberFirst(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{search: []PurchaseOrder{
		{Id: "po-x", PoNumber: "PO-9999", Vendor: Party{Name: "McKesson Pharmaceutical"}},
		{Id: "po-z", PoNumber: "PO-8888", Vendor: Party{Name: "McKesson Pharma"}},
		{Id: "po-y", PoNumber: "po 7781", Vendor: Party{Name: "Cardinal Health"}},
	}}
	invoice := cleanInvoice()

	got, err := SelectCandidates(context.Background(), cfg, src, invoice, nil)
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", got)
	}
	// po-y matches the declared PO number once punctuation is ignored, so it
	// outranks the perfect vendor match.
	wantIds := []string{"po-y", "po-x", "po-z"}
	for i, want := range wantIds {
		if got[i].Id != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].Id)
		}
	}
}

func TestSelectCandidatesWindowCapsAfterRanking(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{}
	for i := 15; i >= 1; i-- {
		src.search = append(src.search, PurchaseOrder{
			Id:       fmt.Sprintf("po-%02d", i),
			PoNumber: fmt.Sprintf("PO-%04d", i),
			Vendor:   Party{Name: "McKesson Pharmaceutical"},
		})
	}
	src.search = append(src.search, src.search[0]) // duplicate id from the source

	invoice := cleanInvoice()
	invoice.PoNumber = ""

	got, err := SelectCandidates(context.Background(), cfg, src, invoice, nil)
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	if len(got) != cfg.CandidateWindow {
		t.Fatalf("expected window of %d, got %d", cfg.CandidateWindow, len(got))
	}
	for i, po := range got {
		want := fmt.Sprintf("po-%02d", i+1)
		if po.Id != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, po.Id)
		}
	}
}

func TestSelectCandidatesNoLookupKeysReturnsEmpty(t *testing.T) {
	cfg := reconTestConfig()
	src := &fakeSource{}
	invoice := cleanInvoice()
	invoice.PoNumber = ""
	invoice.Vendor.Name = "   "

	got, err := SelectCandidates(context.Background(), cfg, src, invoice, nil)
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
	if src.searchCalls != 0 {
		t.Fatalf("blank lookup keys must not hit the source")
	}
}
