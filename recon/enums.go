package recon

// IdentifierKind tags the outcome of product identifier normalization. Unknown
// is a valid, reportable outcome, not an error.
type IdentifierKind string

const (
	IdentifierKindGTIN    IdentifierKind = "GTIN"
	IdentifierKindNDC     IdentifierKind = "NDC"
	IdentifierKindUnknown IdentifierKind = "UNKNOWN"
)

// DiscrepancyKind values are wire-stable; downstream review tooling filters on
// them.
type DiscrepancyKind string

const (
	DiscrepancyQuantityMismatch     DiscrepancyKind = "quantity-mismatch"
	DiscrepancyPriceVariance        DiscrepancyKind = "price-variance"
	DiscrepancyIdentifierMismatch   DiscrepancyKind = "identifier-mismatch"
	DiscrepancyLotExpired           DiscrepancyKind = "lot-expired"
	DiscrepancyUnmatchedInvoiceLine DiscrepancyKind = "unmatched-invoice-line"
	DiscrepancyUnmatchedPoLine      DiscrepancyKind = "unmatched-po-line"
	DiscrepancyNoConfidentMatch     DiscrepancyKind = "no-confident-match"
)

type DiscrepancySeverity string

const (
	SeverityInfo    DiscrepancySeverity = "info"
	SeverityWarning DiscrepancySeverity = "warning"
	SeverityError   DiscrepancySeverity = "error"
)
