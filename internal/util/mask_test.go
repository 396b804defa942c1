package util

import "testing"

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"":                   "",
		"ab":                 "***",
		"Alice@Greenion.fr":  "a…@g….fr",
		"x@greenion.local":   "x@g….local",
		"noatsign":           "n…n",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("eyJhbGciOiJSUzI1NiJ9.payload.sig"); got != "eyJhbG…" {
		t.Fatalf("unexpected %q", got)
	}
	if got := MaskToken("abc"); got != "***" {
		t.Fatalf("unexpected %q", got)
	}
	if got := MaskToken(""); got != "" {
		t.Fatalf("unexpected %q", got)
	}
}
