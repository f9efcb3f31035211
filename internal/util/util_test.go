package util

import (
	"strings"
	"testing"
	"time"
)

func TestSeeMore(t *testing.T) {
	out := SeeMore("body", " ♞ head ")
	if !strings.HasPrefix(out, "♞ head"+KakaoZeroWidthSpace) {
		t.Fatalf("instruction not first: %q", out[:20])
	}
	if strings.Count(out, KakaoZeroWidthSpace) != KakaoSeeMorePadding || !strings.HasSuffix(out, "\nbody") {
		t.Fatalf("unexpected padding layout")
	}
	if SeeMore("  ", "head") != "  " {
		t.Fatalf("blank text should pass through")
	}
}

func TestSeeMoreWithHeader(t *testing.T) {
	out := SeeMoreWithHeader("H\r\n\nline", "H")
	if strings.Count(out, "H") != 1 || !strings.HasSuffix(out, "\nline") {
		t.Fatalf("header should appear once: %q", out)
	}
	if StripLeadingHeader("other\nx", "H") != "other\nx" {
		t.Fatalf("unrelated text must be kept")
	}
}

func TestFormatKST(t *testing.T) {
	ts := time.Date(2024, 12, 31, 16, 30, 0, 0, time.UTC)
	if got := FormatKST(ts, "2006-01-02 15:04"); got != "2025-01-01 01:30" {
		t.Fatalf("got %q", got)
	}
	if FormatKST(time.Time{}, time.RFC3339) != "-" {
		t.Fatalf("zero time should render as dash")
	}
}
