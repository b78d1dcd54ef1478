package recon

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// dateLayouts use single-digit day/month tokens so both padded and unpadded
// input parses. Month names match case-insensitively via time.Parse.
var dateLayouts = []string{
	"2006-1-2",
	"1/2/2006",
	"2-Jan-06",
}

// NormalizeDate parses ISO (2006-01-02), US slash (01/02/2006) and compact
// alphabetic (02-Jan-06) dates. The second return is false for anything
// unparseable; the caller treats that as a missing date, never as an error.
func NormalizeDate(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// CanonicalLot uppercases and drops all whitespace so lot comparison is
// case/whitespace-insensitive.
func CanonicalLot(raw string) string {
	return strings.ToUpper(stripSpace(raw))
}

// CanonicalText lowercases, strips punctuation and collapses runs of
// whitespace. Vendor names and descriptions are compared in this form.
func CanonicalText(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastSpace := true
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// canonicalReference reduces a document reference such as a PO number to
// lowercase alphanumerics, so PO-2024-001, po 2024 001 and PO2024001 compare
// equal.
func canonicalReference(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DescriptionSimilarity is a normalized Levenshtein ratio in [0,1] over the
// canonical forms. Two empty descriptions score 0: absence of text is no
// evidence of agreement.
func DescriptionSimilarity(a, b string) float64 {
	ca, cb := CanonicalText(a), CanonicalText(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}
	longest := utf8.RuneCountInString(ca)
	if n := utf8.RuneCountInString(cb); n > longest {
		longest = n
	}
	dist := levenshtein.ComputeDistance(ca, cb)
	return 1 - float64(dist)/float64(longest)
}

// VendorSimilarity scores vendor-name agreement with Jaro-Winkler over the
// canonical forms.
func VendorSimilarity(a, b string) float64 {
	ca, cb := CanonicalText(a), CanonicalText(b)
	if ca == "" || cb == "" {
		return 0
	}
	return smetrics.JaroWinkler(ca, cb, 0.7, 4)
}
