// Package entropy scores a file prefix for packing/encryption using
// Shannon entropy over the byte-value distribution, a chi-squared
// goodness-of-fit test against the uniform distribution, and a
// Monte-Carlo estimate of π derived from the same bytes — the standard
// trio of randomness diagnostics (ent(1) computes the same three).
// Shannon entropy here generalizes the event-type-distribution formula
// used elsewhere in this codebase for behavioral signals, applied
// instead to the 256-value byte distribution of a file prefix.
package entropy

import (
	"fmt"
	"math"
	"os"

	"github.com/h2non/filetype"

	"github.com/outrider-security/sentinel/internal/platform"
)

// PrefixSize is the number of leading bytes read and scored per file.
const PrefixSize = 256 * 1024

// Report is the randomness-diagnostic result for one file prefix.
type Report struct {
	Path          string
	BytesScanned  int
	ShannonBits   float64 // 0..8, bits per byte
	ChiSquare     float64
	MonteCarloPi  float64
	PiErrorPct    float64
	Skipped       bool
	SkipReason    string // populated when Skipped
}

// Analyze reads up to PrefixSize bytes of path and scores them. Files
// whose magic bytes identify a known-compressed or known-image format
// are skipped (already-high entropy by construction, not evidence of
// packing) and Report.Skipped is set instead of computing the metrics.
func Analyze(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("entropy: open %s: %w", path, platform.ErrNotPresent)
	}
	defer f.Close()

	buf := make([]byte, PrefixSize)
	n, err := readFull(f, buf)
	if err != nil && n == 0 {
		return Report{}, fmt.Errorf("entropy: read %s: %w", path, platform.ErrMalformed)
	}
	buf = buf[:n]

	if kind, err := filetype.Match(buf); err == nil && kind != filetype.Unknown {
		if isPreCompressed(kind.MIME.Value) {
			return Report{Path: path, BytesScanned: n, Skipped: true, SkipReason: "known-compressed: " + kind.MIME.Value}, nil
		}
	}

	var hist [256]int
	for _, b := range buf {
		hist[b]++
	}
	piEstimate := monteCarloPi(buf)
	return Report{
		Path:         path,
		BytesScanned: n,
		ShannonBits:  shannon(hist[:], n),
		ChiSquare:    chiSquare(hist[:], n),
		MonteCarloPi: piEstimate,
		PiErrorPct:   piErrorPct(piEstimate),
	}, nil
}

func isPreCompressed(mime string) bool {
	switch mime {
	case "application/zip", "application/gzip", "application/x-bzip2",
		"application/x-xz", "application/x-7z-compressed",
		"image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// shannon computes H = -Σ p(b)·log2(p(b)) over the 256-value byte
// distribution, in bits per byte (0..8).
func shannon(hist []int, total int) float64 {
	if total == 0 {
		return 0
	}
	fTotal := float64(total)
	var h float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / fTotal
		h -= p * math.Log2(p)
	}
	return h
}

// chiSquare tests the byte distribution against the uniform distribution
// expected of random/encrypted data: Σ (observed-expected)²/expected.
func chiSquare(hist []int, total int) float64 {
	if total == 0 {
		return 0
	}
	expected := float64(total) / 256.0
	var sum float64
	for _, c := range hist {
		d := float64(c) - expected
		sum += d * d / expected
	}
	return sum
}

// monteCarloPi treats each consecutive 6-byte group as a 2D coordinate
// pair (3 bytes per axis) in the unit square and estimates π from the
// fraction landing inside the inscribed circle — the standard randomness
// test that ent(1) performs on the same byte stream.
func monteCarloPi(buf []byte) float64 {
	const groupSize = 6
	if len(buf) < groupSize {
		return 0
	}
	const scale = float64(1<<24 - 1)
	var inside, total int
	for i := 0; i+groupSize <= len(buf); i += groupSize {
		x := float64(uint32(buf[i])<<16|uint32(buf[i+1])<<8|uint32(buf[i+2])) / scale
		y := float64(uint32(buf[i+3])<<16|uint32(buf[i+4])<<8|uint32(buf[i+5])) / scale
		if x*x+y*y <= 1.0 {
			inside++
		}
		total++
	}
	if total == 0 {
		return 0
	}
	return 4.0 * float64(inside) / float64(total)
}

func piErrorPct(estimate float64) float64 {
	if estimate == 0 {
		return 100
	}
	return math.Abs(estimate-math.Pi) / math.Pi * 100
}
