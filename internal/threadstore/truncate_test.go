package threadstore

import (
	"strings"
	"testing"
)

func TestTruncateAtNaturalBoundary_ShortTextUntouched(t *testing.T) {
	text := "short reply"
	if got := TruncateAtNaturalBoundary(text, 100); got != text {
		t.Fatalf("got %q, want unchanged", got)
	}
	if got := TruncateAtNaturalBoundary(text, len(text)); got != text {
		t.Fatalf("exact fit must be unchanged, got %q", got)
	}
}

func TestTruncateAtNaturalBoundary_PrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 80) + "\n\n" + strings.Repeat("b", 100)
	got := TruncateAtNaturalBoundary(text, 120)
	if got != strings.Repeat("a", 80) {
		t.Fatalf("expected cut at paragraph break, got %d chars: %q", len(got), got)
	}
}

func TestTruncateAtNaturalBoundary_FallsBackToSentenceEnd(t *testing.T) {
	text := strings.Repeat("a", 80) + ". " + strings.Repeat("b", 100)
	got := TruncateAtNaturalBoundary(text, 120)
	if got != strings.Repeat("a", 80)+"." {
		t.Fatalf("expected cut after sentence period, got %q", got)
	}
}

func TestTruncateAtNaturalBoundary_HardCutWithoutBoundary(t *testing.T) {
	text := strings.Repeat("x", 500)
	got := TruncateAtNaturalBoundary(text, 200)
	if len(got) != 200 {
		t.Fatalf("expected hard cut to 200, got %d", len(got))
	}
}

func TestTruncateAtNaturalBoundary_BoundaryOutsideScanIgnored(t *testing.T) {
	// The only paragraph break sits more than boundaryScan chars before the
	// cut point, so it must not be used.
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 400)
	got := TruncateAtNaturalBoundary(text, 300)
	if len(got) != 300 {
		t.Fatalf("expected hard cut at 300, got %d: %q", len(got), got[:60])
	}
}

func TestTruncateAtNaturalBoundary_NeverExceedsMax(t *testing.T) {
	texts := []string{
		strings.Repeat("word. ", 100),
		strings.Repeat("para\n\n", 60),
		strings.Repeat("z", 1000),
	}
	for _, text := range texts {
		for _, max := range []int{10, 100, 250, 999} {
			got := TruncateAtNaturalBoundary(text, max)
			if len(got) > max {
				t.Fatalf("len = %d > max %d for %q...", len(got), max, text[:10])
			}
		}
	}
}
