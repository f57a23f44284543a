// Package textnorm decodes obfuscated EPG text and derives the canonical
// channel-name keys used for fuzzy EPG matching.
package textnorm

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNonPrintableRatio is the share of runes outside printable ASCII and
// Latin-1 above which a base64 decode is treated as spurious.
const MaxNonPrintableRatio = 0.3

var base64Shape = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// DecodeText returns the base64-decoded form of raw when raw looks like base64
// and decodes to mostly printable text. Anything else is returned trimmed but
// otherwise unchanged.
func DecodeText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if len(trimmed)%4 != 0 || !base64Shape.MatchString(trimmed) {
		return trimmed
	}

	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return trimmed
	}

	text := strings.TrimSpace(toText(decoded))
	if text == "" {
		return trimmed
	}
	if nonPrintableRatio(text) > MaxNonPrintableRatio {
		return trimmed
	}
	return text
}

// NormalizeName reduces a channel or programme name to lowercase ASCII
// letters and digits. Input that is already in that form is returned as is
// rather than probed for base64, which keeps NormalizeName idempotent.
func NormalizeName(raw string) string {
	if isKey(raw) {
		return raw
	}
	decoded := strings.ToLower(DecodeText(raw))

	var b strings.Builder
	b.Grow(len(decoded))
	for i := 0; i < len(decoded); i++ {
		c := decoded[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Words splits the decoded, lowercased text into runs of ASCII letters and
// digits. Joining the result gives NormalizeName for non-key input.
func Words(raw string) []string {
	decoded := strings.ToLower(DecodeText(raw))
	return strings.FieldsFunc(decoded, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
}

// NormalizeChannelID applies the lighter normalization used for raw XMLTV
// channel ids: lowercase with '.', '-', '_', ' ' and '/' removed.
func NormalizeChannelID(id string) string {
	return channelIDReplacer.Replace(strings.ToLower(id))
}

var channelIDReplacer = strings.NewReplacer(".", "", "-", "", "_", "", " ", "", "/", "")

func isKey(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// toText interprets decoded bytes as UTF-8, falling back to Latin-1 for
// invalid sequences so that every byte maps to exactly one rune.
func toText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func nonPrintableRatio(s string) float64 {
	total := 0
	outside := 0
	for _, r := range s {
		total++
		if !isPrintableLatin(r) {
			outside++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(outside) / float64(total)
}

func isPrintableLatin(r rune) bool {
	return (r >= 0x20 && r <= 0x7e) || (r >= 0xa0 && r <= 0xff)
}
