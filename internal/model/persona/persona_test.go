package persona

import "testing"

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"":                DefaultLabel,
		"   \n":           DefaultLabel,
		"Ada Lovelace":    "Ada Lovelace",
		"  Marie Curie  ": "Marie Curie",
	}
	for raw, want := range cases {
		if got := Label(raw); got != want {
			t.Fatalf("Label(%q) = %q, want %q", raw, got, want)
		}
	}
}
