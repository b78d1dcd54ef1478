package recon

import (
	"sort"

	"github.com/shopspring/decimal"
)

// minPriceDenominator keeps the price-closeness ratio defined when the
// purchase order price is zero.
var minPriceDenominator = decimal.NewFromFloat(0.01)

type scoredPair struct {
	invIdx     int
	poIdx      int
	similarity float64
}

// Align pairs invoice lines with purchase order lines. It scores every
// combination, then assigns greedily from the globally best pair down,
// stopping at the pair-score floor; lines below the floor stay unmatched
// rather than being forced into a poor pairing. Greedy beats optimal
// assignment here because compliance review wants precision and reproducible
// ordering over match count.
//
// Rows come back in invoice input order followed by leftover purchase order
// lines; unmatched rows carry their unmatched issue kind.
func Align(cfg Config, invoiceItems []InvoiceLineItem, poItems []PurchaseOrderLineItem) []LineItemMatch {
	pairs := make([]scoredPair, 0, len(invoiceItems)*len(poItems))
	for i, invItem := range invoiceItems {
		for p, poItem := range poItems {
			sim := lineSimilarity(cfg, invItem, poItem)
			if sim >= cfg.PairScoreFloor {
				pairs = append(pairs, scoredPair{invIdx: i, poIdx: p, similarity: sim})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.similarity != pb.similarity {
			return pa.similarity > pb.similarity
		}
		if la, lb := invoiceItems[pa.invIdx].LineNumber, invoiceItems[pb.invIdx].LineNumber; la != lb {
			return la < lb
		}
		if la, lb := poItems[pa.poIdx].LineNumber, poItems[pb.poIdx].LineNumber; la != lb {
			return la < lb
		}
		if pa.invIdx != pb.invIdx {
			return pa.invIdx < pb.invIdx
		}
		return pa.poIdx < pb.poIdx
	})

	type chosenPair struct {
		poIdx      int
		similarity float64
	}
	invClaimed := make([]bool, len(invoiceItems))
	poClaimed := make([]bool, len(poItems))
	byInvIdx := make(map[int]chosenPair, len(invoiceItems))
	for _, pair := range pairs {
		if invClaimed[pair.invIdx] || poClaimed[pair.poIdx] {
			continue
		}
		invClaimed[pair.invIdx] = true
		poClaimed[pair.poIdx] = true
		byInvIdx[pair.invIdx] = chosenPair{poIdx: pair.poIdx, similarity: pair.similarity}
	}

	matches := make([]LineItemMatch, 0, len(invoiceItems)+len(poItems))
	for i, invItem := range invoiceItems {
		invLine := invItem.LineNumber
		if sel, ok := byInvIdx[i]; ok {
			poLine := poItems[sel.poIdx].LineNumber
			matches = append(matches, LineItemMatch{
				InvoiceLineRef: &invLine,
				PoLineRef:      &poLine,
				Similarity:     sel.similarity,
				Issues:         []DiscrepancyKind{},
			})
			continue
		}
		matches = append(matches, LineItemMatch{
			InvoiceLineRef: &invLine,
			Issues:         []DiscrepancyKind{DiscrepancyUnmatchedInvoiceLine},
		})
	}
	for p, poItem := range poItems {
		if poClaimed[p] {
			continue
		}
		poLine := poItem.LineNumber
		matches = append(matches, LineItemMatch{
			PoLineRef: &poLine,
			Issues:    []DiscrepancyKind{DiscrepancyUnmatchedPoLine},
		})
	}
	return matches
}

// lineSimilarity is the weighted field score for one (invoice line, PO line)
// pair. When the PO line carries no lot number the lot weight is
// redistributed by renormalizing the remaining components.
func lineSimilarity(cfg Config, invItem InvoiceLineItem, poItem PurchaseOrderLineItem) float64 {
	score := cfg.IdentifierWeight*identifierScore(cfg, invItem, poItem) +
		cfg.QuantityWeight*quantityCloseness(invItem.Quantity, poItem.QuantityOrdered) +
		cfg.PriceWeight*priceCloseness(invItem.UnitPrice, poItem.UnitPrice)

	poLot := CanonicalLot(poItem.LotNumber)
	if poLot == "" {
		if rest := 1 - cfg.LotWeight; rest > 0 {
			score /= rest
		}
	} else if CanonicalLot(invItem.LotNumber) == poLot {
		score += cfg.LotWeight
	}
	if score > 1 {
		score = 1
	}
	return score
}

// identifierScore is binary on canonical equality, with a partial credit when
// one side's identifier is missing or unparseable but the descriptions agree
// closely enough to stand in for it.
func identifierScore(cfg Config, invItem InvoiceLineItem, poItem PurchaseOrderLineItem) float64 {
	invId := NormalizeIdentifier(invItem.Identifier)
	poId := NormalizeIdentifier(poItem.Identifier)
	if invId.Equal(poId) {
		return 1
	}
	if invId.IsNull() || poId.IsNull() {
		if DescriptionSimilarity(invItem.Description, poItem.Description) >= cfg.DescriptionCreditFloor {
			return cfg.NullCreditFactor
		}
	}
	return 0
}

func quantityCloseness(invQty, poQty int) float64 {
	ratio := quantityVarianceRatio(invQty, poQty)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

func priceCloseness(invPrice, poPrice decimal.Decimal) float64 {
	ratio := priceVarianceRatio(invPrice, poPrice)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// quantityVarianceRatio is |invoice - po| relative to the ordered quantity,
// with a floor of one unit on the denominator.
func quantityVarianceRatio(invQty, poQty int) float64 {
	delta := invQty - poQty
	if delta < 0 {
		delta = -delta
	}
	return float64(delta) / float64(max(poQty, 1))
}

// priceVarianceRatio is |invoice - po| relative to the purchase order price,
// with a one-cent floor on the denominator.
func priceVarianceRatio(invPrice, poPrice decimal.Decimal) float64 {
	denom := poPrice
	if denom.LessThan(minPriceDenominator) {
		denom = minPriceDenominator
	}
	return invPrice.Sub(poPrice).Abs().Div(denom).InexactFloat64()
}
