package runner

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{Workspace: t.TempDir()}
}

// drain reads until the process reports it is no longer running and returns
// the non-empty lines seen.
func drain(t *testing.T, h Handle) []string {
	t.Helper()
	var lines []string
	deadline := time.Now().Add(10 * time.Second)
	for h.Running() {
		if time.Now().After(deadline) {
			_ = h.Kill()
			t.Fatal("process did not finish in time")
		}
		if line := h.ReadLine(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestStart_ThreeLinesThenExit(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("printf 'one\\ntwo\\nthree\\n'", InheritEnv(nil)), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, want := range []string{"one", "two", "three"} {
		if got := h.ReadLine(); got != want {
			t.Fatalf("ReadLine() = %q, want %q", got, want)
		}
	}

	// The fourth read observes the closed stream.
	if rest := drain(t, h); len(rest) != 0 {
		t.Fatalf("unexpected extra lines: %q", rest)
	}
	if h.Running() {
		t.Fatal("Running() = true after end of stream")
	}

	status := h.ExitCode()
	code, ok := status.ReturnCode()
	if !ok || code != 0 {
		t.Errorf("ExitCode() = %v, want exit status 0", status)
	}
	if !status.Success() {
		t.Error("Success() = false, want true")
	}
}

func TestReadLine_StripsTrailingNewlines(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand(`printf 'crlf\r\n'; printf 'lf\n'; printf 'partial'`, nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	lines := drain(t, h)
	want := []string{"crlf", "lf", "partial"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for _, l := range lines {
		if strings.ContainsAny(l, "\r\n") {
			t.Errorf("line %q still contains a newline character", l)
		}
	}
}

func TestReadLine_LoneCarriageReturnEndsLine(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand(`printf 'a\rb\r\nc\n'`, nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	lines := drain(t, h)
	if strings.Join(lines, "|") != "a|b|c" {
		t.Errorf("lines = %q, want [a b c]", lines)
	}
}

func TestRead_PendingUntilExit(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("echo hi; exec >/dev/null 2>&1; sleep 0.3; exit 4", nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := h.(*Process)

	var states []ReadState
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			_ = p.Kill()
			t.Fatal("process did not finish in time")
		}
		line, state := p.Read()
		if state == LineRead && line != "hi" {
			t.Fatalf("Read() = %q, want hi", line)
		}
		if state == Pending && !p.Running() {
			t.Fatal("Running() = false while the child is still alive")
		}
		if len(states) == 0 || states[len(states)-1] != state {
			states = append(states, state)
		}
		if state == EndOfStream {
			break
		}
	}

	want := []ReadState{LineRead, Pending, EndOfStream}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
	if code, ok := p.ExitCode().ReturnCode(); !ok || code != 4 {
		t.Errorf("ReturnCode() = %d, %v, want 4, true", code, ok)
	}
}

func TestReadLine_BlankLinePreserved(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand(`printf 'a\n\nb\n'`, nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := h.(*Process)
	var got []string
	for {
		line, state := p.Read()
		if state == EndOfStream {
			break
		}
		if state == LineRead {
			got = append(got, line)
		}
	}
	if strings.Join(got, "|") != "a||b" {
		t.Errorf("lines = %q, want [a  b]", got)
	}
}

func TestReadLine_MergesStderr(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("echo out; echo err 1>&2", nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	lines := drain(t, h)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "out") || !strings.Contains(joined, "err") {
		t.Errorf("lines = %q, want both stdout and stderr", lines)
	}
}

func TestReadLine_InvalidUTF8Replaced(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand(`printf 'ok\377\n'`, nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	lines := drain(t, h)
	if len(lines) != 1 || lines[0] != "ok�" {
		t.Errorf("lines = %q, want [\"ok\\uFFFD\"]", lines)
	}
}

func TestExitCode_NonZero(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("exit 3", nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, h)

	code, ok := h.ExitCode().ReturnCode()
	if !ok || code != 3 {
		t.Errorf("ReturnCode() = %d, %v, want 3, true", code, ok)
	}
}

func TestExitCode_WhileRunning(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("sleep 5", nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		_ = h.Kill()
		h.ExitCode()
	}()

	status := h.ExitCode()
	if status.State != StateRunning {
		t.Errorf("ExitCode().State = %v, want running", status.State)
	}
	if _, ok := status.ReturnCode(); ok {
		t.Error("ReturnCode() ok = true while running")
	}
}

func TestKill_ReportsNegatedSignal(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("echo ready; sleep 30; echo never", nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := h.ReadLine(); got != "ready" {
		t.Fatalf("ReadLine() = %q, want ready", got)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if h.Running() {
		t.Fatal("Running() = true after Kill")
	}

	status := h.ExitCode()
	code, ok := status.ReturnCode()
	if !ok || code != -int(syscall.SIGKILL) {
		t.Errorf("ExitCode() = %v, want %d", status, -int(syscall.SIGKILL))
	}
	if !status.KilledBy(syscall.SIGKILL) {
		t.Error("KilledBy(SIGKILL) = false")
	}
}

func TestKill_Idempotent(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("true", nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, h)
	first := h.ExitCode()

	if err := h.Kill(); err != nil {
		t.Errorf("Kill after exit: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}
	if got := h.ExitCode(); got != first {
		t.Errorf("ExitCode() changed after Kill: %v -> %v", first, got)
	}
}

func TestStart_TwiceFails(t *testing.T) {
	p := NewProcess(NewCommand("true", nil))
	if err := p.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		_ = p.Kill()
		p.ExitCode()
	}()
	if err := p.Start(""); err == nil {
		t.Fatal("expected error on second Start")
	}
}

func TestStart_MissingShell(t *testing.T) {
	p := NewProcess(NewCommand("true", nil), WithShell("/nonexistent/shell-xyz"))
	err := p.Start("")
	if err == nil {
		t.Fatal("expected error for missing shell")
	}
	if p.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestStart_CommandNotFoundIsData(t *testing.T) {
	r := newTestRunner(t)
	h, err := r.Start(NewCommand("nonexistent-binary-xyz-123", nil), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, h)

	code, _ := h.ExitCode().ReturnCode()
	if code != 127 {
		t.Errorf("ReturnCode() = %d, want 127", code)
	}
}

func TestStart_EnvironmentApplied(t *testing.T) {
	r := newTestRunner(t)
	env := InheritEnv(map[string]string{"QEMURUN_TEST_VAR": "hello"})
	h, err := r.Start(NewCommand(`echo "$QEMURUN_TEST_VAR"`, env), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	lines := drain(t, h)
	if len(lines) != 1 || lines[0] != "hello" {
		t.Errorf("lines = %q, want [hello]", lines)
	}
}

func TestStart_CWDWithinWorkspace(t *testing.T) {
	r := newTestRunner(t)
	sub := filepath.Join(r.Workspace, "subdir")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	h, err := r.Start(NewCommand("pwd", nil), "subdir")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	lines := drain(t, h)
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "subdir") {
		t.Errorf("lines = %q, want path ending in subdir", lines)
	}
}

func TestStart_CWDOutsideWorkspace(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Start(NewCommand("true", nil), "../")
	if err == nil {
		t.Fatal("expected error for cwd outside workspace")
	}
	if !strings.Contains(err.Error(), "outside workspace") {
		t.Errorf("error = %q, want 'outside workspace'", err)
	}
}

func TestCommand_Immutable(t *testing.T) {
	env := map[string]string{"A": "1"}
	c := NewCommand("true", env)
	env["A"] = "2"
	env["B"] = "3"

	if got := c.Env()["A"]; got != "1" {
		t.Errorf("Env()[A] = %q, want 1", got)
	}
	c.Env()["A"] = "mutated"
	if got := c.Environ(); len(got) != 1 || got[0] != "A=1" {
		t.Errorf("Environ() = %q, want [A=1]", got)
	}
}

func TestInheritEnv_Overrides(t *testing.T) {
	t.Setenv("QEMURUN_INHERITED", "base")
	env := InheritEnv(map[string]string{"WIFI_SSID": ""})

	if env["QEMURUN_INHERITED"] != "base" {
		t.Errorf("inherited value = %q, want base", env["QEMURUN_INHERITED"])
	}
	if v, ok := env["WIFI_SSID"]; !ok || v != "" {
		t.Errorf("WIFI_SSID = %q (present=%v), want empty override", v, ok)
	}
}
