package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRenderQR(t *testing.T) {
	out := renderQR("2@abc,def,ghi")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 10 {
		t.Fatalf("expected a QR block, got %d lines", len(lines))
	}
	width := utf8.RuneCountInString(lines[0])
	for i, l := range lines {
		if got := utf8.RuneCountInString(l); got != width {
			t.Errorf("line %d width = %d, want %d", i, got, width)
		}
	}
}
