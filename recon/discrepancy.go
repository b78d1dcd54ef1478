package recon

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Report derives the issue list for the evaluated candidate and rewrites each
// row's issue kinds. It never mutates its inputs; callers get fresh rows.
//
// Ordering is fixed: header issues first, then invoice-line issues in line
// number order (identifier, lot expiry, quantity, price, unmatched within a
// line), then leftover purchase order lines in line number order. Lot expiry
// is checked for every invoice line whether or not it matched, and even when
// no candidate was evaluated at all.
func Report(cfg Config, invoice Invoice, candidate PurchaseOrder, matches []LineItemMatch, chosen bool, bestScore float64) ([]LineItemMatch, []Discrepancy) {
	rows := make([]LineItemMatch, len(matches))
	copy(rows, matches)

	invRowByLine := make(map[int]int, len(rows))
	poOnlyRows := make([]int, 0, len(rows))
	for i, row := range rows {
		if row.InvoiceLineRef != nil {
			if _, ok := invRowByLine[*row.InvoiceLineRef]; !ok {
				invRowByLine[*row.InvoiceLineRef] = i
			}
			continue
		}
		if row.PoLineRef != nil {
			poOnlyRows = append(poOnlyRows, i)
		}
	}
	poItemByLine := make(map[int]PurchaseOrderLineItem, len(candidate.Items))
	for _, item := range candidate.Items {
		if _, ok := poItemByLine[item.LineNumber]; !ok {
			poItemByLine[item.LineNumber] = item
		}
	}

	issues := make([]Discrepancy, 0, len(rows)+1)
	if !chosen {
		issues = append(issues, noConfidentMatchIssue(cfg, candidate, bestScore))
	}

	rd := cfg.reconciliationDate()
	reconDay := time.Date(rd.Year(), rd.Month(), rd.Day(), 0, 0, 0, 0, time.UTC)

	order := make([]int, len(invoice.Items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return invoice.Items[order[a]].LineNumber < invoice.Items[order[b]].LineNumber
	})

	for _, itemIdx := range order {
		invItem := invoice.Items[itemIdx]
		lineRef := invItem.LineNumber

		rowIdx, hasRow := invRowByLine[invItem.LineNumber]
		var poItem PurchaseOrderLineItem
		var poRef *int
		matched := false
		if hasRow && rows[rowIdx].PoLineRef != nil {
			poLine := *rows[rowIdx].PoLineRef
			poRef = &poLine
			poItem, matched = poItemByLine[poLine]
		}

		kinds := make([]DiscrepancyKind, 0, 4)

		if matched {
			invId := NormalizeIdentifier(invItem.Identifier)
			poId := NormalizeIdentifier(poItem.Identifier)
			if !invId.IsNull() && !poId.IsNull() && !invId.Equal(poId) {
				kinds = append(kinds, DiscrepancyIdentifierMismatch)
				issues = append(issues, Discrepancy{
					Kind:           DiscrepancyIdentifierMismatch,
					Severity:       SeverityError,
					InvoiceLineRef: &lineRef,
					PoLineRef:      poRef,
					Detail:         fmt.Sprintf("identifier %s does not match purchase order identifier %s", invId.Canonical(), poId.Canonical()),
				})
			}
		}

		if expiry, ok := NormalizeDate(invItem.ExpiryDate); ok && expiry.Before(reconDay) {
			kinds = append(kinds, DiscrepancyLotExpired)
			issues = append(issues, Discrepancy{
				Kind:           DiscrepancyLotExpired,
				Severity:       SeverityError,
				InvoiceLineRef: &lineRef,
				Detail:         lotExpiredDetail(invItem.LotNumber, expiry, reconDay),
			})
		}

		if matched {
			if invItem.Quantity != poItem.QuantityOrdered {
				ratio := quantityVarianceRatio(invItem.Quantity, poItem.QuantityOrdered)
				kinds = append(kinds, DiscrepancyQuantityMismatch)
				issues = append(issues, Discrepancy{
					Kind:           DiscrepancyQuantityMismatch,
					Severity:       varianceSeverity(cfg, ratio),
					InvoiceLineRef: &lineRef,
					PoLineRef:      poRef,
					Detail:         fmt.Sprintf("invoice quantity %d vs %d ordered", invItem.Quantity, poItem.QuantityOrdered),
				})
			}
			if ratio := priceVarianceRatio(invItem.UnitPrice, poItem.UnitPrice); ratio > cfg.PriceVarianceTolerance {
				kinds = append(kinds, DiscrepancyPriceVariance)
				issues = append(issues, Discrepancy{
					Kind:           DiscrepancyPriceVariance,
					Severity:       varianceSeverity(cfg, ratio),
					InvoiceLineRef: &lineRef,
					PoLineRef:      poRef,
					Detail:         fmt.Sprintf("invoice unit price %s vs %s on purchase order", invItem.UnitPrice.String(), poItem.UnitPrice.String()),
				})
			}
		} else if hasRow {
			kinds = append(kinds, DiscrepancyUnmatchedInvoiceLine)
			issues = append(issues, Discrepancy{
				Kind:           DiscrepancyUnmatchedInvoiceLine,
				Severity:       SeverityError,
				InvoiceLineRef: &lineRef,
				Detail:         "no purchase order line matched",
			})
		}

		if hasRow {
			rows[rowIdx].Issues = kinds
		}
	}

	sort.SliceStable(poOnlyRows, func(a, b int) bool {
		return *rows[poOnlyRows[a]].PoLineRef < *rows[poOnlyRows[b]].PoLineRef
	})
	for _, rowIdx := range poOnlyRows {
		poLine := *rows[rowIdx].PoLineRef
		rows[rowIdx].Issues = []DiscrepancyKind{DiscrepancyUnmatchedPoLine}
		issues = append(issues, Discrepancy{
			Kind:      DiscrepancyUnmatchedPoLine,
			Severity:  SeverityError,
			PoLineRef: &poLine,
			Detail:    "no invoice line matched",
		})
	}

	return rows, issues
}

func noConfidentMatchIssue(cfg Config, candidate PurchaseOrder, bestScore float64) Discrepancy {
	detail := "no candidate purchase orders were found"
	if candidate.Id != "" || candidate.PoNumber != "" {
		label := candidate.PoNumber
		if label == "" {
			label = candidate.Id
		}
		detail = fmt.Sprintf("best candidate %s scored %.2f, acceptance threshold is %.2f", label, bestScore, cfg.ConfidenceThreshold)
	}
	return Discrepancy{
		Kind:     DiscrepancyNoConfidentMatch,
		Severity: SeverityWarning,
		Detail:   detail,
	}
}

func lotExpiredDetail(lotNumber string, expiry, reconDay time.Time) string {
	dates := fmt.Sprintf("expiry %s precedes reconciliation date %s", expiry.Format("2006-01-02"), reconDay.Format("2006-01-02"))
	if lot := strings.TrimSpace(lotNumber); lot != "" {
		return fmt.Sprintf("lot %s %s", lot, dates)
	}
	return dates
}

func varianceSeverity(cfg Config, ratio float64) DiscrepancySeverity {
	if ratio > cfg.VarianceErrorRatio {
		return SeverityError
	}
	return SeverityWarning
}
