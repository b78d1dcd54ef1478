package recon

import (
	"context"
	"sort"
)

// CandidateSource is the persistence collaborator the engine pulls purchase
// orders from. The engine owns no database connection; lookups are the only
// point where a Reconcile call can block on I/O.
type CandidateSource interface {
	LoadPurchaseOrders(ctx context.Context, ids []string) ([]PurchaseOrder, error)
	FindPurchaseOrdersByNumberOrVendor(ctx context.Context, poNumber string, vendorName string) ([]PurchaseOrder, error)
}

// SelectCandidates resolves the purchase orders one reconciliation evaluates.
// Explicit ids win and keep the caller's order; otherwise the invoice's
// declared poNumber and vendor name drive a bounded fallback search. An empty
// result is a normal outcome, not an error.
func SelectCandidates(ctx context.Context, cfg Config, source CandidateSource, invoice Invoice, explicitPoIds []string) ([]PurchaseOrder, error) {
	if len(explicitPoIds) > 0 {
		loaded, err := source.LoadPurchaseOrders(ctx, explicitPoIds)
		if err != nil {
			return nil, err
		}
		byId := make(map[string]PurchaseOrder, len(loaded))
		for _, po := range loaded {
			if _, ok := byId[po.Id]; !ok {
				byId[po.Id] = po
			}
		}
		ordered := make([]PurchaseOrder, 0, len(explicitPoIds))
		seen := make(map[string]bool, len(explicitPoIds))
		for _, id := range explicitPoIds {
			if seen[id] {
				continue
			}
			seen[id] = true
			if po, ok := byId[id]; ok {
				ordered = append(ordered, po)
			}
		}
		return ordered, nil
	}

	vendorName := invoice.Vendor.Name
	if invoice.PoNumber == "" && CanonicalText(vendorName) == "" {
		return nil, nil
	}
	found, err := source.FindPurchaseOrdersByNumberOrVendor(ctx, invoice.PoNumber, vendorName)
	if err != nil {
		return nil, err
	}
	return rankCandidates(cfg, invoice, found), nil
}

// rankCandidates orders fallback hits deterministically regardless of how the
// source returned them: exact poNumber hits first, then vendor similarity,
// then id. The window cap is applied after ranking.
func rankCandidates(cfg Config, invoice Invoice, found []PurchaseOrder) []PurchaseOrder {
	type rankedCandidate struct {
		po         PurchaseOrder
		exactPo    bool
		vendorSim  float64
		inputOrder int
	}

	wantPo := canonicalReference(invoice.PoNumber)
	ranked := make([]rankedCandidate, 0, len(found))
	seen := make(map[string]bool, len(found))
	for i, po := range found {
		if seen[po.Id] {
			continue
		}
		seen[po.Id] = true
		ranked = append(ranked, rankedCandidate{
			po:         po,
			exactPo:    wantPo != "" && canonicalReference(po.PoNumber) == wantPo,
			vendorSim:  VendorSimilarity(invoice.Vendor.Name, po.Vendor.Name),
			inputOrder: i,
		})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		ra, rb := ranked[a], ranked[b]
		if ra.exactPo != rb.exactPo {
			return ra.exactPo
		}
		if ra.vendorSim != rb.vendorSim {
			return ra.vendorSim > rb.vendorSim
		}
		if ra.po.Id != rb.po.Id {
			return ra.po.Id < rb.po.Id
		}
		return ra.inputOrder < rb.inputOrder
	})

	out := make([]PurchaseOrder, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.po)
	}
	if cfg.CandidateWindow > 0 && len(out) > cfg.CandidateWindow {
		out = out[:cfg.CandidateWindow]
	}
	return out
}
