// Package textutil repairs header text that arrives in legacy charsets and
// shortens it for display.
package textutil

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// fallbacks are tried in order when detection is not confident. Western
// single-byte charsets come first since they dominate unlabeled 8-bit
// headers.
var fallbacks = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_15,
	japanese.ShiftJIS,
	japanese.EUCJP,
	korean.EUCKR,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise it
// guesses the charset with chardet, then tries the fallbacks, and as a
// last resort replaces invalid bytes with U+FFFD.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	// chardet is unreliable on short input, so demand less of it there.
	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res.Confidence >= minConfidence {
		if enc := encodingByName(res.Charset); enc != nil {
			if out, ok := decode(enc, data); ok {
				return out
			}
		}
	}

	for _, enc := range fallbacks {
		if out, ok := decode(enc, data); ok {
			return out
		}
	}
	return strings.ToValidUTF8(s, "�")
}

// decode treats replacement characters in the output as a wrong guess.
func decode(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(out) || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// encodingByName resolves an IANA or WHATWG charset label. UTF-8 and
// unknown labels return nil.
func encodingByName(name string) encoding.Encoding {
	enc, err := htmlindex.Get(name)
	if err != nil || enc == encoding.Nop {
		return nil
	}
	if n, _ := htmlindex.Name(enc); n == "utf-8" {
		return nil
	}
	return enc
}

// TruncateRunes truncates s to at most maxRunes runes, ending in "..."
// when anything was cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// Preview collapses all whitespace in s to single spaces and truncates the
// result to maxRunes.
func Preview(s string, maxRunes int) string {
	return TruncateRunes(strings.Join(strings.Fields(s), " "), maxRunes)
}
