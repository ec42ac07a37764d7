// Package fingerprint computes exact and approximate identities for text.
package fingerprint

import (
	"encoding/hex"
	"math/bits"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultShingleSize is the number of runes per SimHash feature.
	DefaultShingleSize = 3
	// Bits is the SimHash width.
	Bits = 64
	// ContentIDLength is the hex length of a content id.
	ContentIDLength = blake2b.Size256 * 2
)

// ContentID returns the hex BLAKE2b-256 digest of text.
// Invalid UTF-8 sequences are replaced before hashing.
func ContentID(text string) string {
	return ContentIDBytes([]byte(strings.ToValidUTF8(text, string(utf8.RuneError))))
}

// ContentIDBytes returns the hex BLAKE2b-256 digest of raw bytes.
func ContentIDBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsContentID reports whether s looks like a value produced by ContentID.
func IsContentID(s string) bool {
	if len(s) != ContentIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// SimHash returns the 64-bit SimHash of text built from overlapping rune shingles.
// Text shorter than shingleSize is a single shingle.
func SimHash(text string, shingleSize int) uint64 {
	if shingleSize <= 0 {
		shingleSize = DefaultShingleSize
	}

	runes := []rune(Canonicalize(text))
	var weights [Bits]int
	if len(runes) < shingleSize {
		accumulate(&weights, xxhash.Sum64String(string(runes)))
	} else {
		for i := 0; i+shingleSize <= len(runes); i++ {
			accumulate(&weights, xxhash.Sum64String(string(runes[i:i+shingleSize])))
		}
	}

	var fp uint64
	for i, w := range weights {
		if w > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

func accumulate(weights *[Bits]int, h uint64) {
	for i := 0; i < Bits; i++ {
		if h&(1<<uint(i)) != 0 {
			weights[i]++
		} else {
			weights[i]--
		}
	}
}

// Canonicalize folds text to the form used for SimHash features: NFKC, lower case,
// with punctuation, symbols and whitespace removed. Text made only of removed
// characters is returned unchanged so it still has a feature.
func Canonicalize(text string) string {
	text = strings.ToValidUTF8(text, string(utf8.RuneError))
	folded := norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	if b.Len() == 0 {
		return text
	}
	return b.String()
}

// HammingDistance returns the number of differing bits.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
