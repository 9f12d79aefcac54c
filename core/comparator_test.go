package core

import "testing"

func TestDiffCompare(t *testing.T) {
	cases := []struct {
		name     string
		actual   string
		expected string
		want     bool
	}{
		{"exact", "5\n", "5\n", true},
		{"missing terminal newline", "5", "5\n", true},
		{"extra terminal newline", "5\n", "5", true},
		{"trailing spaces", "5   \n", "5\n", true},
		{"trailing tab", "a\tb\t\n", "a\tb\n", true},
		{"carriage returns", "5\r\n6\r\n", "5\n6\n", true},
		{"both empty", "", "", true},
		{"empty vs newline", "", "\n", true},
		{"wrong value", "wrong\n", "5\n", false},
		{"line count mismatch", "5\n6\n", "5\n", false},
		{"leading space differs", " 5\n", "5\n", false},
		{"interior blank line differs", "a\n\nb\n", "a\nb\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := diffCompare(tc.actual, tc.expected); got != tc.want {
				t.Fatalf("diffCompare(%q, %q) = %v, want %v", tc.actual, tc.expected, got, tc.want)
			}
		})
	}
}
