package recon

import (
	"context"
	"fmt"
	"strings"
)

// InputError reports a malformed invoice. The document is rejected before any
// matching runs; Violations lists every field failure found, not just the
// first.
type InputError struct {
	Violations []string
}

func (e *InputError) Error() string {
	return "invalid invoice: " + strings.Join(e.Violations, "; ")
}

func validateInvoice(invoice Invoice) *InputError {
	var violations []string
	if strings.TrimSpace(invoice.InvoiceNumber) == "" {
		violations = append(violations, "invoiceNumber is required")
	}
	seen := make(map[int]bool, len(invoice.Items))
	for _, item := range invoice.Items {
		if item.LineNumber < 1 {
			violations = append(violations, fmt.Sprintf("line %d: lineNumber must be positive", item.LineNumber))
		} else if seen[item.LineNumber] {
			violations = append(violations, fmt.Sprintf("line %d: duplicate lineNumber", item.LineNumber))
		}
		seen[item.LineNumber] = true
		if item.Quantity < 0 {
			violations = append(violations, fmt.Sprintf("line %d: negative quantity %d", item.LineNumber, item.Quantity))
		}
		if item.UnitPrice.IsNegative() {
			violations = append(violations, fmt.Sprintf("line %d: negative unitPrice %s", item.LineNumber, item.UnitPrice.String()))
		}
		if item.TotalPrice.IsNegative() {
			violations = append(violations, fmt.Sprintf("line %d: negative totalPrice %s", item.LineNumber, item.TotalPrice.String()))
		}
	}
	if invoice.Totals.Subtotal.IsNegative() {
		violations = append(violations, "totals.subtotal is negative")
	}
	if invoice.Totals.Total.IsNegative() {
		violations = append(violations, "totals.total is negative")
	}
	if len(violations) == 0 {
		return nil
	}
	return &InputError{Violations: violations}
}

// Reconcile runs the full pipeline for one invoice: validate, select
// candidates, align line items per candidate, pick the best overall score and
// derive the issue report. Identical inputs always produce identical output.
//
// A best score below the confidence threshold is a normal result carrying a
// nil MatchedPurchaseOrderId and a no-confident-match issue, with the best
// attempt's line detail kept for human review. Only candidate lookup failures
// and malformed input surface as errors.
func Reconcile(ctx context.Context, cfg Config, source CandidateSource, invoice Invoice, explicitPoIds []string) (MatchResult, error) {
	if err := cfg.Validate(); err != nil {
		return MatchResult{}, err
	}
	if inputErr := validateInvoice(invoice); inputErr != nil {
		return MatchResult{}, inputErr
	}

	candidates, err := SelectCandidates(ctx, cfg, source, invoice, explicitPoIds)
	if err != nil {
		return MatchResult{}, fmt.Errorf("load purchase order candidates: %w", err)
	}

	var best PurchaseOrder
	var bestMatches []LineItemMatch
	bestScore := 0.0
	haveBest := false
	for _, candidate := range candidates {
		aligned := Align(cfg, invoice.Items, candidate.Items)
		overall := ScoreCandidate(cfg, invoice, candidate, aligned)
		if !haveBest || overall > bestScore {
			haveBest = true
			best = candidate
			bestMatches = aligned
			bestScore = overall
		}
	}

	chosen := haveBest && bestScore >= cfg.ConfidenceThreshold
	if bestMatches == nil {
		bestMatches = []LineItemMatch{}
	}
	rows, issues := Report(cfg, invoice, best, bestMatches, chosen, bestScore)

	result := MatchResult{
		MatchScore:      bestScore,
		LineItemMatches: rows,
		Issues:          issues,
	}
	if chosen {
		id := best.Id
		result.MatchedPurchaseOrderId = &id
	}
	return result, nil
}
