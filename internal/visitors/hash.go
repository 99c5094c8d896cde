package visitors

import (
	"strconv"
	"unicode/utf16"
)

// Hash returns a stable, non-cryptographic identifier for s, used in place
// of the raw network address. It is the 31-multiplier polynomial hash over
// UTF-16 code units with 32-bit wraparound, encoded as "h_<base36>".
func Hash(s string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(unit)
	}

	// int64 keeps abs(MinInt32) representable
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return "h_" + strconv.FormatInt(abs, 36)
}

// SignatureHash hashes the concatenated visitor and session ids.
func SignatureHash(id Identity) string {
	return Hash(id.VisitorID + id.SessionID)
}
