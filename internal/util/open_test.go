package util

import "testing"

func TestFormatPercent(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:     "0.0%",
		0.5:   "50.0%",
		0.875: "87.5%",
		1:     "100.0%",
	}
	for in, want := range cases {
		if got := FormatPercent(in); got != want {
			t.Fatalf("FormatPercent(%v)=%q want %q", in, got, want)
		}
	}
}
