package workflow

import "testing"

func TestExtractArtifactPath(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{"plain", "Executable unittests (target/debug/foo-abc123)", "target/debug/foo-abc123", true},
		{"with source", "  Executable unittests src/main.rs (target/xtensa-esp32-espidf/debug/deps/fw-1a2b)", "target/xtensa-esp32-espidf/debug/deps/fw-1a2b", true},
		{"coloured", "\x1b[1m\x1b[32m  Executable\x1b[0m unittests (target/debug/foo)", "target/debug/foo", true},
		{"coloured marker intact", "\x1b[32mExecutable unittests\x1b[0m (target/debug/foo)", "target/debug/foo", true},
		{"no marker", "Compiling fw v0.1.0 (/work/fw)", "", false},
		{"no parens", "Executable unittests src/main.rs", "", false},
		{"unterminated", "Executable unittests (target/debug/foo", "", false},
		{"empty parens", "Executable unittests ()", "", false},
		{"parens before marker ignored", "(x) Executable unittests (target/y)", "target/y", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractArtifactPath(tc.line)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ExtractArtifactPath(%q) = %q, %v, want %q, %v", tc.line, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestArtifactTracker_LastMatchWins(t *testing.T) {
	var tr ArtifactTracker
	if _, ok := tr.Path(); ok {
		t.Fatal("Path() ok before any match")
	}
	for _, line := range []string{
		"Executable unittests src/lib.rs (target/debug/deps/first)",
		"   Finished test [unoptimized + debuginfo]",
		"Executable unittests src/main.rs (target/debug/deps/second)",
		"warning: unused import",
	} {
		tr.Observe(line)
	}
	got, ok := tr.Path()
	if !ok || got != "target/debug/deps/second" {
		t.Errorf("Path() = %q, %v, want second", got, ok)
	}
}

func TestParseResultBanner(t *testing.T) {
	tests := []struct {
		line       string
		wantBanner bool
		wantPass   bool
	}{
		{"test result: ok. 3 passed; 0 failed", true, true},
		{"test result: FAILED. 1 passed; 2 failed", true, false},
		{"\x1b[32mtest result: ok. 1 passed\x1b[0m", true, true},
		{"  test result: ok.", false, false},
		{"running 3 tests", false, false},
		{"test foo ... ok", false, false},
	}
	for _, tc := range tests {
		b, ok := ParseResultBanner(tc.line)
		if ok != tc.wantBanner {
			t.Errorf("ParseResultBanner(%q) detected = %v, want %v", tc.line, ok, tc.wantBanner)
			continue
		}
		if ok && b.Passed != tc.wantPass {
			t.Errorf("ParseResultBanner(%q).Passed = %v, want %v", tc.line, b.Passed, tc.wantPass)
		}
	}
}

func TestCleanLine(t *testing.T) {
	if got := CleanLine("\x1b[31merror\x1b[0m: boom"); got != "error: boom" {
		t.Errorf("CleanLine = %q", got)
	}
	if got := CleanLine("plain"); got != "plain" {
		t.Errorf("CleanLine(plain) = %q", got)
	}
}
