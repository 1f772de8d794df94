package model

import "testing"

func TestNormalizerNormalize(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		want       string
		sortTokens bool
	}{
		{
			name:  "lowercases",
			input: "Quarterly Planning Update",
			want:  "quarterly planning update",
		},
		{
			name:  "strips punctuation",
			input: "Launch, finally! (v2)",
			want:  "launch finally v2",
		},
		{
			name:  "collapses whitespace",
			input: "  too\t many\n\nspaces  ",
			want:  "too many spaces",
		},
		{
			name:       "sorts tokens when enabled",
			input:      "beta alpha gamma",
			want:       "alpha beta gamma",
			sortTokens: true,
		},
		{
			name:  "keeps token order by default",
			input: "beta alpha gamma",
			want:  "beta alpha gamma",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Normalizer{SortTokens: tt.sortTokens}
			got := n.Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizerFingerprint(t *testing.T) {
	n := Normalizer{}

	// Same content after normalization produces the same fingerprint.
	a := n.Fingerprint("Team Offsite: Agenda!")
	b := n.Fingerprint("  team offsite agenda ")
	if a != b {
		t.Errorf("equivalent content produced different fingerprints: %q vs %q", a, b)
	}

	// Different content must not collide.
	c := n.Fingerprint("team offsite budget")
	if a == c {
		t.Errorf("distinct content produced the same fingerprint %q", a)
	}

	// Fingerprints are hex sha256.
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}
}

func TestFingerprintSortTokensChangesIdentity(t *testing.T) {
	ordered := Normalizer{SortTokens: false}
	sorted := Normalizer{SortTokens: true}

	x := "release notes draft"
	y := "draft release notes"

	if ordered.Fingerprint(x) == ordered.Fingerprint(y) {
		t.Error("order-sensitive fingerprints should differ for reordered tokens")
	}
	if sorted.Fingerprint(x) != sorted.Fingerprint(y) {
		t.Error("order-insensitive fingerprints should match for reordered tokens")
	}
}
