package recon

import (
	"fmt"
	"strconv"
	"strings"
)

// fnc1 is the GS1 group separator, ASCII 29.
const fnc1 = '\x1d'

// gs1FieldLengths maps the application identifiers found on pharma packs to
// their field length. Zero means variable length.
var gs1FieldLengths = map[string]int{
	"01": 14, // GTIN
	"10": 0,  // lot number
	"17": 6,  // expiration date YYMMDD
	"21": 0,  // serial number
}

type DataMatrix struct {
	GTIN           string `json:"gtin"`
	SerialNumber   string `json:"serialNumber"`
	LotNumber      string `json:"lotNumber"`
	ExpirationDate string `json:"expirationDate"`
	NDC            string `json:"ndc"`
}

// ParseDataMatrix extracts GTIN, serial, lot and expiry from GS1 DataMatrix
// content. Variable-length fields end at a FNC1 separator, at the literal
// "029" some handheld scanners emit in place of FNC1, or at the next known
// application identifier. Unknown identifiers are skipped one character at a
// time instead of failing the scan, and the first occurrence of each field
// wins. A GTIN with the 003 pharma prefix also yields its embedded NDC in
// 5-4 form. The parser never errors; missing fields stay empty.
func ParseDataMatrix(raw string) DataMatrix {
	var out DataMatrix

	remaining := raw
	for len(remaining) >= 2 {
		ai := remaining[:2]
		length, known := gs1FieldLengths[ai]
		if !known {
			remaining = remaining[1:]
			continue
		}
		remaining = remaining[2:]

		var value string
		if length == 0 {
			var field strings.Builder
			j := 0
			for j < len(remaining) {
				if remaining[j] == fnc1 {
					j++
					break
				}
				if j+4 < len(remaining) && remaining[j:j+3] == "029" {
					if _, ok := gs1FieldLengths[remaining[j+3:j+5]]; ok {
						j += 3
						break
					}
				}
				if j+1 < len(remaining) {
					if _, ok := gs1FieldLengths[remaining[j:j+2]]; ok {
						break
					}
				}
				field.WriteByte(remaining[j])
				j++
			}
			value = field.String()
			remaining = remaining[j:]
		} else {
			if len(remaining) < length {
				break
			}
			value = remaining[:length]
			remaining = remaining[length:]
			if len(remaining) > 0 {
				if remaining[0] == fnc1 {
					remaining = remaining[1:]
				} else if len(remaining) >= 5 && remaining[:3] == "029" {
					if _, ok := gs1FieldLengths[remaining[3:5]]; ok {
						remaining = remaining[3:]
					}
				}
			}
		}

		switch {
		case ai == "01" && out.GTIN == "":
			out.GTIN = value
		case ai == "21" && out.SerialNumber == "":
			out.SerialNumber = value
		case ai == "17" && out.ExpirationDate == "":
			out.ExpirationDate = expandGs1Date(value)
		case ai == "10" && out.LotNumber == "":
			out.LotNumber = value
		}
	}

	if len(out.GTIN) >= 12 && strings.HasPrefix(out.GTIN, "003") {
		ndcRaw := out.GTIN[3:12]
		out.NDC = ndcRaw[:5] + "-" + ndcRaw[5:]
	}
	return out
}

// expandGs1Date turns YYMMDD into YYYY-MM-DD with the GS1 pivot: years below
// 50 land in 2000-2049, the rest in 1950-1999. Malformed input yields "".
func expandGs1Date(value string) string {
	if len(value) != 6 || keepDigits(value) != value {
		return ""
	}
	yy, _ := strconv.Atoi(value[0:2])
	mm, _ := strconv.Atoi(value[2:4])
	dd, _ := strconv.Atoi(value[4:6])
	year := 1900 + yy
	if yy < 50 {
		year = 2000 + yy
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, mm, dd)
}
