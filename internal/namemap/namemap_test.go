package namemap_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"dicomdisc/internal/namemap"
)

func TestMapIdentifierKnownValues(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", namemap.EmptyToken},
		{"a", "00000061"},
		{"1.2.3", "02c82a3a"},
		{"1.2.3.4.5.6", "e01b7f4f"},
		{"PAT001", "8c3e92ce"},
		{"1.2.840.113619.2.55.3.604688119.969.1268071029.320", "b90305f3"},
		{"é", "000000e9"},
		{"😀", "001b0d63"},
	}
	for _, tc := range cases {
		if got := namemap.MapIdentifier(tc.in); got != tc.want {
			t.Errorf("MapIdentifier(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMapIdentifierShape(t *testing.T) {
	inputs := []string{"x", "1.2.826.0.1.3680043.2.1125.1", strings.Repeat("9", 64), "\x00"}
	for _, in := range inputs {
		got := namemap.MapIdentifier(in)
		if len(got) != 8 {
			t.Fatalf("expected 8 characters for %q, got %q", in, got)
		}
		if strings.ToLower(got) != got {
			t.Fatalf("expected lowercase token, got %q", got)
		}
		if again := namemap.MapIdentifier(in); again != got {
			t.Fatalf("expected deterministic token for %q: %q vs %q", in, got, again)
		}
	}
	if namemap.MapIdentifier("Ab") == namemap.MapIdentifier("BB") {
		t.Fatal("expected distinct tokens for Ab and BB")
	}
}

func TestMapDisplayName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"plain", "Doe^John", 30, "Doe^John"},
		{"markup and diacritics", "<b>Müller</b> &amp; Søn", 30, "Muller & S_n"},
		{"unsafe characters", `a/b:c*d?"e"`, 30, "a_b_c_d_e"},
		{"whitespace collapse", "  CT   Thorax\tAbdomen ", 30, "CT Thorax Abdomen"},
		{"line breaks", "Chest\r\nPA\f Lateral", 30, "Chest PA Lateral"},
		{"control characters", "a\x00b\x1bc", 30, "a_b_c"},
		{"truncated", "ABCDEFGHIJKLMNOP", 10, "ABCDEFG..."},
		{"default limit", strings.Repeat("x", 40), 0, strings.Repeat("x", 27) + "..."},
		{"empty", "", 10, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := namemap.MapDisplayName(tc.in, tc.max)
			if got != tc.want {
				t.Fatalf("MapDisplayName(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
			limit := tc.max
			if limit <= 0 {
				limit = namemap.DefaultDisplayLength
			}
			if utf8.RuneCountInString(got) > limit {
				t.Fatalf("result %q exceeds %d runes", got, limit)
			}
		})
	}
}

func TestFolderNameKeepsToken(t *testing.T) {
	token := namemap.MapIdentifier("1.2.3.4.5.6")
	got := namemap.FolderName("Chest CT with a very long description here", 25, token)
	if !strings.HasSuffix(got, "-"+token) {
		t.Fatalf("expected token suffix in %q", got)
	}
	if prefix := strings.TrimSuffix(got, "-"+token); utf8.RuneCountInString(prefix) > 25 {
		t.Fatalf("display part %q exceeds limit", prefix)
	}
	if got := namemap.FolderName("", 25, token); got != token {
		t.Fatalf("expected bare token for empty name, got %q", got)
	}
	if got := namemap.FolderName("Brain", 25, ""); got != "Brain" {
		t.Fatalf("expected bare name without token, got %q", got)
	}
}
