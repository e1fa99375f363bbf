package sqlutil

import "testing"

func TestFirstKeyword(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                     "select",
		"  -- comment\nSELECT 1":       "select",
		"/* c */ INSERT INTO x":        "insert",
		"":                             "",
		"GROUP BY x":                   "group",
	}
	for in, want := range cases {
		if got := FirstKeyword(in); got != want {
			t.Errorf("FirstKeyword(%q) = %q, want %q", in, got, want)
		}
	}
}
