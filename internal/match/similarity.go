package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// streetSuffixRe strips common street-type tokens before address comparison.
var streetSuffixRe = regexp.MustCompile(`\b(street|st|road|rd|avenue|ave)\b`)

// nonAlnumRe removes everything except letters, digits and spaces.
var nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]`)

// foldTransformer decomposes characters and drops combining marks, so
// field-captured names like "José" and "Jose" compare equal.
var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases, trims and strips diacritics from a field-captured string.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Similarity returns normalized edit-distance similarity in [0,1] between
// two short strings: (maxLen - levenshtein) / maxLen over folded inputs.
// Two empty strings are identical (1.0); one empty string matches nothing (0).
func Similarity(a, b string) float64 {
	s1 := Fold(a)
	s2 := Fold(b)

	if s1 == s2 {
		return 1
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	dist := levenshtein(s1, s2)
	maxLen := len([]rune(s1))
	if l2 := len([]rune(s2)); l2 > maxLen {
		maxLen = l2
	}
	return float64(maxLen-dist) / float64(maxLen)
}

// AddressSimilarity compares two free-text addresses after stripping street
// suffixes and punctuation, then delegates to Similarity.
func AddressSimilarity(a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	return Similarity(normalizeAddress(a), normalizeAddress(b))
}

func normalizeAddress(addr string) string {
	s := Fold(addr)
	s = streetSuffixRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// levenshtein computes classic edit distance with a two-row matrix.
func levenshtein(a, b string) int {
	r1 := []rune(a)
	r2 := []rune(b)

	prev := make([]int, len(r1)+1)
	curr := make([]int, len(r1)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r2); i++ {
		curr[0] = i
		for j := 1; j <= len(r1); j++ {
			cost := 1
			if r2[i-1] == r1[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j-1]+cost, minInt(curr[j-1]+1, prev[j]+1))
		}
		prev, curr = curr, prev
	}

	return prev[len(r1)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
