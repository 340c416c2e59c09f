package threadstore

import "strings"

// boundaryScan is how far back from the cut point a natural boundary is
// searched for before falling back to a hard truncation.
const boundaryScan = 100

// TruncateAtNaturalBoundary shortens text to at most maxChars, preferring a
// paragraph break and then a sentence end within the last hundred characters
// of the cut point.
func TruncateAtNaturalBoundary(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	candidate := text[:maxChars]

	scanFrom := len(candidate) - boundaryScan
	if scanFrom < 0 {
		scanFrom = 0
	}
	if i := strings.LastIndex(candidate[scanFrom:], "\n\n"); i >= 0 {
		return candidate[:scanFrom+i]
	}
	if i := strings.LastIndex(candidate[scanFrom:], ". "); i >= 0 {
		return candidate[:scanFrom+i+1]
	}
	return candidate
}
