package format

import "testing"

func TestPercent(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0%"},
		{0.005, "0.5%"},
		{0.0015, "0.15%"},
		{0.5, "50%"},
		{1, "100%"},
	}
	for _, tc := range cases {
		if got := Percent(tc.in); got != tc.want {
			t.Fatalf("Percent(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFloat(t *testing.T) {
	cases := []struct {
		in       float64
		decimals int
		want     string
	}{
		{50250, 2, "50250"},
		{50250.5, 2, "50250.5"},
		{0.123456, 4, "0.1235"},
		{0, 2, "0"},
		{1.5, -1, "1.5"},
	}
	for _, tc := range cases {
		if got := Float(tc.in, tc.decimals); got != tc.want {
			t.Fatalf("Float(%v, %d) = %q, want %q", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "-"},
		{-5, "-"},
		{30_000, "30s"},
		{90_000, "1m30s"},
		{3_900_000, "1h5m"},
	}
	for _, tc := range cases {
		if got := Duration(tc.ms); got != tc.want {
			t.Fatalf("Duration(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}
