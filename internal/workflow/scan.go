package workflow

import (
	"strings"

	"github.com/acarl005/stripansi"
)

const (
	// ArtifactMarker introduces the unit test executable in cargo's output,
	// e.g. "Executable unittests src/main.rs (target/.../deps/fw-1a2b3c)".
	ArtifactMarker = "Executable unittests"
	// BannerPrefix starts the summary line printed by the test harness.
	BannerPrefix = "test result:"
)

// CleanLine removes ANSI escape sequences so colourised tool output can be
// matched by substring and prefix.
func CleanLine(line string) string {
	if !strings.ContainsRune(line, '\x1b') {
		return line
	}
	return stripansi.Strip(line)
}

// ExtractArtifactPath returns the text between the first "(" and the first
// ")" after ArtifactMarker. ok is false when the line does not carry the
// marker or the parentheses are missing.
func ExtractArtifactPath(line string) (path string, ok bool) {
	line = CleanLine(line)
	i := strings.Index(line, ArtifactMarker)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(ArtifactMarker):]
	_, after, found := strings.Cut(rest, "(")
	if !found {
		return "", false
	}
	path, _, found = strings.Cut(after, ")")
	if !found || path == "" {
		return "", false
	}
	return path, true
}

// ArtifactTracker remembers the most recent artifact path seen in a stream.
type ArtifactTracker struct {
	path  string
	found bool
}

// Observe scans one line and reports whether it carried an artifact path.
func (t *ArtifactTracker) Observe(line string) bool {
	path, ok := ExtractArtifactPath(line)
	if ok {
		t.path, t.found = path, true
	}
	return ok
}

// Path returns the last extracted path.
func (t *ArtifactTracker) Path() (string, bool) {
	return t.path, t.found
}

// Banner is a detected test result line.
type Banner struct {
	Line   string
	Passed bool
}

// ParseResultBanner detects the test harness summary. The run passed when
// "ok" appears anywhere in the line.
func ParseResultBanner(line string) (Banner, bool) {
	line = CleanLine(line)
	if !strings.HasPrefix(line, BannerPrefix) {
		return Banner{}, false
	}
	return Banner{Line: line, Passed: strings.Contains(line, "ok")}, true
}
