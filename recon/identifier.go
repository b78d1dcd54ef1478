package recon

import (
	"strings"
	"unicode"
)

// Identifier is the normalized form of a product code. Kind Unknown keeps the
// raw input untouched in Value so the caller can still display it; GTIN keeps
// the compacted 14 digits; NDC keeps the canonical 5-4-2 hyphenated form.
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

// NormalizeIdentifier classifies a raw product code as GTIN, NDC or Unknown.
// Recognized NDC groupings are 5-4-2, 5-3-2 and 4-4-2, all padded to 5-4-2;
// bare 11-digit strings split 5-4-2 and bare 10-digit strings are left-padded
// first. The function is a fixpoint: feeding Value back in reproduces the same
// Identifier. It never fails; anything unrecognized comes back Unknown with
// the input unchanged.
func NormalizeIdentifier(raw string) Identifier {
	compact := stripSpace(raw)
	if compact == "" {
		return Identifier{Kind: IdentifierKindUnknown, Value: raw}
	}
	if strings.Contains(compact, "-") {
		if ndc, ok := parseHyphenatedNdc(compact); ok {
			return Identifier{Kind: IdentifierKindNDC, Value: ndc}
		}
	}
	if !containsLetter(compact) {
		digits := keepDigits(compact)
		switch len(digits) {
		case 14:
			return Identifier{Kind: IdentifierKindGTIN, Value: digits}
		case 11:
			return Identifier{Kind: IdentifierKindNDC, Value: segmentNdc(digits)}
		case 10:
			// 10-digit NDCs are ambiguous between 5-3-2 and 4-4-2. Padding on
			// the left is a fixed convention, not a lookup of the real
			// labeler segmentation.
			return Identifier{Kind: IdentifierKindNDC, Value: segmentNdc("0" + digits)}
		}
	}
	return Identifier{Kind: IdentifierKindUnknown, Value: raw}
}

// Canonical projects the identifier into NDC space for equality checks. GTINs
// drop the leading indicator digit and the trailing check digit, shed one
// leading zero from the remaining twelve (else keep the trailing eleven) and
// segment 5-4-2. The projection is positional: no check-digit validation, no
// labeler-length lookup, so a converted GTIN can disagree with the labeler's
// published NDC segmentation.
func (id Identifier) Canonical() string {
	switch id.Kind {
	case IdentifierKindNDC:
		return id.Value
	case IdentifierKindGTIN:
		core := id.Value[1 : len(id.Value)-1]
		if core[0] == '0' {
			core = core[1:]
		} else {
			core = core[len(core)-11:]
		}
		return segmentNdc(core)
	default:
		return id.Value
	}
}

// Equal reports whether two identifiers agree in canonical NDC space. Empty
// values never match anything, including each other.
func (id Identifier) Equal(other Identifier) bool {
	c := id.Canonical()
	return c != "" && c == other.Canonical()
}

func (id Identifier) IsNull() bool {
	return id.Kind == IdentifierKindUnknown
}

func parseHyphenatedNdc(s string) (string, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return "", false
	}
	for _, part := range parts {
		if part == "" || keepDigits(part) != part {
			return "", false
		}
	}
	if len(parts[2]) != 2 {
		return "", false
	}
	switch {
	case len(parts[0]) == 5 && len(parts[1]) == 4:
	case len(parts[0]) == 5 && len(parts[1]) == 3:
		parts[1] = "0" + parts[1]
	case len(parts[0]) == 4 && len(parts[1]) == 4:
		parts[0] = "0" + parts[0]
	default:
		return "", false
	}
	return parts[0] + "-" + parts[1] + "-" + parts[2], true
}

func segmentNdc(digits string) string {
	return digits[:5] + "-" + digits[5:9] + "-" + digits[9:]
}

func stripSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keepDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
