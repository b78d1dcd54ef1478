package recon

import (
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func invLine(line int, identifier, lot string, qty int, price string) InvoiceLineItem {
	return InvoiceLineItem{
		LineNumber:  line,
		Description: "Atorvastatin 20mg Tablets",
		Identifier:  identifier,
		LotNumber:   lot,
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
		TotalPrice:  decimal.RequireFromString(price).Mul(decimal.NewFromInt(int64(qty))),
	}
}

func poLine(line int, identifier, lot string, qty int, price string) PurchaseOrderLineItem {
	return PurchaseOrderLineItem{
		LineNumber:      line,
		Identifier:      identifier,
		Description:     "Atorvastatin 20mg Tablets",
		QuantityOrdered: qty,
		UnitPrice:       decimal.RequireFromString(price),
		LotNumber:       lot,
	}
}

func TestLineSimilarityIdenticalLine(t *testing.T) {
	cfg := DefaultConfig()
	sim := lineSimilarity(cfg, invLine(1, "55150-0188-10", "A2204", 48, "23.79"), poLine(1, "55150-0188-10", "A2204", 48, "23.79"))
	if !almost(sim, 1) {
		t.Fatalf("expected similarity 1, got %v", sim)
	}
}

func TestLineSimilarityQuantityDrift(t *testing.T) {
	cfg := DefaultConfig()
	sim := lineSimilarity(cfg, invLine(1, "55150-0188-10", "A2204", 50, "23.79"), poLine(1, "55150-0188-10", "A2204", 48, "23.79"))
	want := 0.45 + 0.2*(1-2.0/48.0) + 0.2 + 0.15
	if !almost(sim, want) {
		t.Fatalf("expected %v, got %v", want, sim)
	}
}

func TestLineSimilarityLotWeightRedistributed(t *testing.T) {
	cfg := DefaultConfig()
	// PO line carries no lot: remaining components renormalize, a perfect
	// line still scores 1.
	sim := lineSimilarity(cfg, invLine(1, "55150-0188-10", "A2204", 48, "23.79"), poLine(1, "55150-0188-10", "", 48, "23.79"))
	if !almost(sim, 1) {
		t.Fatalf("expected similarity 1, got %v", sim)
	}
	// With the PO lot present but different the weight stays in play and is
	// simply lost.
	sim = lineSimilarity(cfg, invLine(1, "55150-0188-10", "A2204", 48, "23.79"), poLine(1, "55150-0188-10", "B9999", 48, "23.79"))
	if !almost(sim, 0.85) {
		t.Fatalf("expected 0.85, got %v", sim)
	}
}

func TestLineSimilarityNullIdentifierCredit(t *testing.T) {
	cfg := DefaultConfig()
	inv := invLine(1, "", "A2204", 48, "23.79")
	po := poLine(1, "55150-0188-10", "A2204", 48, "23.79")
	sim := lineSimilarity(cfg, inv, po)
	want := 0.45*0.5 + 0.2 + 0.2 + 0.15
	if !almost(sim, want) {
		t.Fatalf("expected %v with half identifier credit, got %v", want, sim)
	}

	// Divergent descriptions shut the credit off.
	inv.Description = "Completely Different Product"
	sim = lineSimilarity(cfg, inv, po)
	want = 0.2 + 0.2 + 0.15
	if !almost(sim, want) {
		t.Fatalf("expected %v without credit, got %v", want, sim)
	}
}

func TestAlignPerfectPair(t *testing.T) {
	cfg := DefaultConfig()
	matches := Align(cfg,
		[]InvoiceLineItem{invLine(1, "55150-0188-10", "A2204", 48, "23.79")},
		[]PurchaseOrderLineItem{poLine(1, "55150-0188-10", "A2204", 48, "23.79")},
	)
	if len(matches) != 1 {
		t.Fatalf("expected 1 row, got %d", len(matches))
	}
	row := matches[0]
	if row.InvoiceLineRef == nil || *row.InvoiceLineRef != 1 || row.PoLineRef == nil || *row.PoLineRef != 1 {
		t.Fatalf("expected pair (1,1), got %+v", row)
	}
	if !almost(row.Similarity, 1) {
		t.Fatalf("expected similarity 1, got %v", row.Similarity)
	}
	if len(row.Issues) != 0 {
		t.Fatalf("matched row should carry no issues from alignment, got %v", row.Issues)
	}
}

func TestAlignFloorLeavesPoorPairsUnmatched(t *testing.T) {
	cfg := DefaultConfig()
	matches := Align(cfg,
		[]InvoiceLineItem{invLine(1, "55150-0188-10", "A2204", 48, "23.79")},
		[]PurchaseOrderLineItem{poLine(1, "68180-0513-01", "", 500, "99.99")},
	)
	if len(matches) != 2 {
		t.Fatalf("expected 2 unmatched rows, got %d", len(matches))
	}
	if matches[0].PoLineRef != nil {
		t.Fatalf("invoice row should be unmatched, got %+v", matches[0])
	}
	if len(matches[0].Issues) != 1 || matches[0].Issues[0] != DiscrepancyUnmatchedInvoiceLine {
		t.Fatalf("expected unmatched-invoice-line issue, got %v", matches[0].Issues)
	}
	if matches[1].InvoiceLineRef != nil {
		t.Fatalf("po row should be unmatched, got %+v", matches[1])
	}
	if len(matches[1].Issues) != 1 || matches[1].Issues[0] != DiscrepancyUnmatchedPoLine {
		t.Fatalf("expected unmatched-po-line issue, got %v", matches[1].Issues)
	}
}

func TestAlignTieBreakPrefersSmallerLines(t *testing.T) {
	cfg := DefaultConfig()

	// One invoice line, two identical PO lines: the smaller PO line wins.
	matches := Align(cfg,
		[]InvoiceLineItem{invLine(1, "55150-0188-10", "A2204", 48, "23.79")},
		[]PurchaseOrderLineItem{
			poLine(2, "55150-0188-10", "A2204", 48, "23.79"),
			poLine(1, "55150-0188-10", "A2204", 48, "23.79"),
		},
	)
	if *matches[0].PoLineRef != 1 {
		t.Fatalf("expected PO line 1 claimed on tie, got %d", *matches[0].PoLineRef)
	}

	// Two identical invoice lines, one PO line: the smaller invoice line wins.
	matches = Align(cfg,
		[]InvoiceLineItem{
			invLine(2, "55150-0188-10", "A2204", 48, "23.79"),
			invLine(1, "55150-0188-10", "A2204", 48, "23.79"),
		},
		[]PurchaseOrderLineItem{poLine(1, "55150-0188-10", "A2204", 48, "23.79")},
	)
	var claimed *int
	for _, row := range matches {
		if row.InvoiceLineRef != nil && row.PoLineRef != nil {
			claimed = row.InvoiceLineRef
		}
	}
	if claimed == nil || *claimed != 1 {
		t.Fatalf("expected invoice line 1 claimed on tie, got %v", claimed)
	}
}

func TestAlignFloorAndCoverageProperties(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(7))
	identifiers := []string{"55150-0188-10", "00093-7146-56", "68180-0513-01", "", "N/A"}
	lots := []string{"", "A2204", "B8812"}

	for run := 0; run < 200; run++ {
		invItems := make([]InvoiceLineItem, rng.Intn(5))
		for i := range invItems {
			invItems[i] = invLine(i+1, identifiers[rng.Intn(len(identifiers))], lots[rng.Intn(len(lots))], rng.Intn(500), "10.00")
			invItems[i].UnitPrice = decimal.NewFromInt(int64(rng.Intn(100)))
		}
		poItems := make([]PurchaseOrderLineItem, rng.Intn(5))
		for i := range poItems {
			poItems[i] = poLine(i+1, identifiers[rng.Intn(len(identifiers))], lots[rng.Intn(len(lots))], rng.Intn(500), "10.00")
			poItems[i].UnitPrice = decimal.NewFromInt(int64(rng.Intn(100)))
		}

		matches := Align(cfg, invItems, poItems)
		matched := 0
		for _, row := range matches {
			if row.InvoiceLineRef != nil && row.PoLineRef != nil {
				matched++
				if row.Similarity < cfg.PairScoreFloor {
					t.Fatalf("run=%d assigned pair below floor: %v", run, row.Similarity)
				}
			}
		}
		if limit := min(len(invItems), len(poItems)); matched > limit {
			t.Fatalf("run=%d matched %d pairs, coverage bound is %d", run, matched, limit)
		}
		if len(matches) != len(invItems)+len(poItems)-matched {
			t.Fatalf("run=%d expected every line accounted for once, got %d rows", run, len(matches))
		}
	}
}
