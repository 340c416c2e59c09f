package agent

import "regexp"

// phasePatterns are tried in priority order against each streamed stdout
// chunk; the first match wins. Matches anywhere in the chunk are accepted,
// so incidental occurrences of a phase name can misfire — each distinct
// phase is still only reported once per run.
var phasePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"OBSERVE", regexp.MustCompile(`(?i)OBSERVE`)},
	{"THINK", regexp.MustCompile(`(?i)THINK`)},
	{"EXECUTE", regexp.MustCompile(`(?i)EXECUTE`)},
	{"VERIFY", regexp.MustCompile(`(?i)VERIFY`)},
	{"COMPLETE", regexp.MustCompile(`(?i)COMPLETE`)},
	{"Planning", regexp.MustCompile(`(?i)Planning`)},
	{"Implementing", regexp.MustCompile(`(?i)Implementing`)},
	{"Testing", regexp.MustCompile(`(?i)Testing`)},
	{"Reviewing", regexp.MustCompile(`(?i)Reviewing`)},
}

// detectPhase returns the highest-priority phase named in the chunk, or "".
func detectPhase(chunk string) string {
	for _, p := range phasePatterns {
		if p.re.MatchString(chunk) {
			return p.name
		}
	}
	return ""
}

// ansiRe matches two-byte escapes (ESC followed by @ through _) and CSI
// sequences.
var ansiRe = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes ANSI escape sequences from terminal output.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
