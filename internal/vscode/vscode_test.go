package vscode

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildTask_Shape(t *testing.T) {
	data, err := json.Marshal(BuildTask("${workspaceFolder}/qemurun unittest --no-run"))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["label"] != BuildTaskLabel || got["type"] != "shell" {
		t.Errorf("task = %v", got)
	}
	if pm, ok := got["problemMatcher"].([]any); !ok || len(pm) != 0 {
		t.Errorf("problemMatcher = %v, want empty list", got["problemMatcher"])
	}
	group, _ := got["group"].(map[string]any)
	if group["kind"] != "build" || group["isDefault"] != true {
		t.Errorf("group = %v", got["group"])
	}
	if _, ok := got["isBackground"]; ok {
		t.Error("build task must not be a background task")
	}
}

func TestDebugTask_Command(t *testing.T) {
	task := DebugTask("/opt/qemu/qemu-system-xtensa", "esp32", "target/img.bin", 3333)
	want := "/opt/qemu/qemu-system-xtensa -gdb tcp::3333 -S -nographic -machine esp32 -drive file=${workspaceFolder}/target/img.bin,if=mtd,format=raw -no-reboot"
	if task.Command != want {
		t.Errorf("Command =\n  %s\nwant\n  %s", task.Command, want)
	}
	if !task.IsBackground || len(task.DependsOn) != 1 || task.DependsOn[0] != BuildTaskLabel {
		t.Errorf("task = %+v", task)
	}
	bg := task.ProblemMatcher[0].Background
	if bg == nil || !bg.ActiveOnStart || bg.BeginsPattern != "." || bg.EndsPattern != "." {
		t.Errorf("background = %+v", bg)
	}
}

func TestAttachLaunch(t *testing.T) {
	l := AttachLaunch("target/debug/deps/fw-1a2b", "/x/.embuild/bin/xtensa-esp32-elf-gdb", 1234)
	if l.Program != "${workspaceFolder}/target/debug/deps/fw-1a2b" {
		t.Errorf("Program = %q", l.Program)
	}
	if l.MIDebuggerServerAddress != "localhost:1234" {
		t.Errorf("MIDebuggerServerAddress = %q", l.MIDebuggerServerAddress)
	}
	if l.PreLaunchTask != DebugTaskLabel || l.Type != "cppdbg" || l.MIMode != "gdb" {
		t.Errorf("launch = %+v", l)
	}

	abs := AttachLaunch("/abs/fw", "gdb", 1234)
	if abs.Program != "/abs/fw" {
		t.Errorf("absolute Program = %q", abs.Program)
	}
}

func TestFindGDB(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "espressif", "tools", "xtensa-esp32-elf-gdb", "bin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "xtensa-esp32-elf-gdb")
	if err := os.WriteFile(want, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindGDB(root, "xtensa-esp32-elf-gdb")
	if err != nil {
		t.Fatalf("FindGDB: %v", err)
	}
	if got != want {
		t.Errorf("FindGDB = %q, want %q", got, want)
	}
}

func TestFindGDB_Missing(t *testing.T) {
	_, err := FindGDB(t.TempDir(), "xtensa-esp32-elf-gdb")
	if !errors.Is(err, ErrGDBNotFound) {
		t.Errorf("err = %v, want ErrGDBNotFound", err)
	}

	_, err = FindGDB(filepath.Join(t.TempDir(), "no-such-dir"), "gdb")
	if !errors.Is(err, ErrGDBNotFound) {
		t.Errorf("missing root: err = %v, want ErrGDBNotFound", err)
	}
}

func TestPayloads_Render(t *testing.T) {
	p := Payloads{
		BuildTask: BuildTask("build"),
		DebugTask: DebugTask("qemu", "esp32", "img.bin", 1234),
		Launch:    AttachLaunch("exe", "gdb", 1234),
	}
	var buf bytes.Buffer
	if err := p.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"tasks.json entry for building QEMU unittests:",
		"launch.json entry for attaching debug to QEMU unit tests:",
		`  "label": "Build unittests for QEMU"`,
		`  "miDebuggerServerAddress": "localhost:1234"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRelPath(t *testing.T) {
	if got := RelPath("/work", "/work/target/x"); got != "target/x" {
		t.Errorf("inside = %q", got)
	}
	if got := RelPath("/work", "/elsewhere/x"); got != "/elsewhere/x" {
		t.Errorf("outside = %q", got)
	}
	if got := RelPath("/work", "target/x"); got != "target/x" {
		t.Errorf("relative = %q", got)
	}
}
