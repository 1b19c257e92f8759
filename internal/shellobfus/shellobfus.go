// Package shellobfus recognizes and reverses common shell-script
// obfuscation idioms (inline base64, inline hex, eval wrappers) so a
// dangerous-command check can see past them. No third-party
// deobfuscation library exists anywhere in the retrieval pack; this is
// stdlib encoding/base64 and encoding/hex plus a handful of regexes.
package shellobfus

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
)

// Finding is one decoded form recovered from a script, together with the
// technique that produced it.
type Finding struct {
	Technique string // "base64" | "hex" | "eval"
	Decoded   string
}

var (
	base64Literal = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)
	hexLiteral    = regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){6,}`)
	evalWrapper   = regexp.MustCompile(`\beval\s+["'\x60]`)
)

// Deobfuscate scans content for base64/hex/eval obfuscation idioms and
// returns every decoded form it could recover. It never errors: content
// that does not match any pattern yields an empty, non-nil slice.
func Deobfuscate(content string) []Finding {
	out := []Finding{}

	for _, m := range base64Literal.FindAllString(content, -1) {
		if decoded, ok := tryBase64(m); ok {
			out = append(out, Finding{Technique: "base64", Decoded: decoded})
		}
	}
	for _, m := range hexLiteral.FindAllString(content, -1) {
		if decoded, ok := tryHexEscapes(m); ok {
			out = append(out, Finding{Technique: "hex", Decoded: decoded})
		}
	}
	if evalWrapper.MatchString(content) {
		out = append(out, Finding{Technique: "eval", Decoded: content})
	}
	return out
}

func tryBase64(s string) (string, bool) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil && isMostlyPrintable(b) {
			return string(b), true
		}
	}
	return "", false
}

func tryHexEscapes(s string) (string, bool) {
	hexDigits := strings.ReplaceAll(s, `\x`, "")
	b, err := hex.DecodeString(hexDigits)
	if err != nil || !isMostlyPrintable(b) {
		return "", false
	}
	return string(b), true
}

// isMostlyPrintable rejects decode attempts that just happened to
// succeed on binary noise — a real obfuscated shell fragment decodes to
// overwhelmingly printable ASCII.
func isMostlyPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	printable := 0
	for _, c := range b {
		if c == '\n' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			printable++
		}
	}
	return float64(printable)/float64(len(b)) > 0.85
}
