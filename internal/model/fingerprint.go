package model

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Normalizer produces content fingerprints for duplicate and change
// detection. Two contents that normalize identically always share a
// fingerprint.
type Normalizer struct {
	// SortTokens additionally sorts the normalized words so reordered
	// phrasings fingerprint identically. Off by default.
	SortTokens bool
}

// Normalize lowercases, strips everything that is not alphanumeric or
// whitespace, collapses whitespace runs, and trims.
func (n Normalizer) Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	if n.SortTokens {
		sort.Strings(words)
	}
	return strings.Join(words, " ")
}

// Fingerprint returns the sha256 of the normalized text as a 64-character
// hex string.
func (n Normalizer) Fingerprint(text string) string {
	hash := sha256.Sum256([]byte(n.Normalize(text)))
	return fmt.Sprintf("%x", hash)
}
