package recon

// HeaderAgreement scores document-level consistency between an invoice and a
// candidate purchase order. With a declared poNumber it averages vendor-name
// similarity and PO-number equality; without one, vendor similarity stands
// alone.
func HeaderAgreement(invoice Invoice, po PurchaseOrder) float64 {
	vendorSim := VendorSimilarity(invoice.Vendor.Name, po.Vendor.Name)
	if invoice.PoNumber == "" {
		return vendorSim
	}
	poEquality := 0.0
	if canonicalReference(invoice.PoNumber) == canonicalReference(po.PoNumber) {
		poEquality = 1
	}
	return (vendorSim + poEquality) / 2
}

// ScoreCandidate aggregates one candidate's alignment into an overall score:
// mean pair similarity, header agreement and line coverage, combined with the
// configured aggregate weights. No matched pairs means a zero mean, not a
// skipped component.
func ScoreCandidate(cfg Config, invoice Invoice, po PurchaseOrder, matches []LineItemMatch) float64 {
	matched := 0
	simSum := 0.0
	for _, m := range matches {
		if m.InvoiceLineRef != nil && m.PoLineRef != nil {
			matched++
			simSum += m.Similarity
		}
	}
	mean := 0.0
	if matched > 0 {
		mean = simSum / float64(matched)
	}
	coverage := 0.0
	if denom := max(len(invoice.Items), len(po.Items)); denom > 0 {
		coverage = float64(matched) / float64(denom)
	}
	return cfg.MeanSimilarityWeight*mean +
		cfg.HeaderWeight*HeaderAgreement(invoice, po) +
		cfg.CoverageWeight*coverage
}
