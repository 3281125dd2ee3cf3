package main

import "testing"

func TestNormalizeTarget(t *testing.T) {
	cases := map[string]string{
		"ser:/dev/ttyUSB0,9600": "ser:/dev/ttyUSB0,9600",
		"tn:10.0.0.5":           "tn:10.0.0.5",
		"ws:10.0.0.5,secret":    "ws:10.0.0.5,secret",
		"/dev/ttyACM0":          "ser:/dev/ttyACM0",
		"ttyUSB0":               "ser:/dev/ttyUSB0",
	}
	for in, want := range cases {
		if got := normalizeTarget(in); got != want {
			t.Errorf("normalizeTarget(%q) = %q, want %q", in, got, want)
		}
	}
}
