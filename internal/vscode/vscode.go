// Package vscode builds the tasks.json and launch.json entries that let VS
// Code build the unit test image, start it under the emulator's gdb stub and
// attach a debugger.
package vscode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
)

const (
	// BuildTaskLabel names the task that rebuilds the unit test image.
	BuildTaskLabel = "Build unittests for QEMU"
	// DebugTaskLabel names the background task that starts the emulator.
	DebugTaskLabel = "Run unittest on QEMU for debugging"
	// LaunchName names the debugger launch configuration.
	LaunchName = "Debug unittest on QEMU"

	workspaceFolder = "${workspaceFolder}"
)

// Task is a tasks.json entry.
type Task struct {
	Label          string           `json:"label"`
	Type           string           `json:"type"`
	IsBackground   bool             `json:"isBackground,omitempty"`
	DependsOn      []string         `json:"dependsOn,omitempty"`
	Command        string           `json:"command"`
	ProblemMatcher []ProblemMatcher `json:"problemMatcher"`
	Group          *TaskGroup       `json:"group,omitempty"`
}

// TaskGroup marks a task as part of a VS Code task group.
type TaskGroup struct {
	Kind      string `json:"kind"`
	IsDefault bool   `json:"isDefault"`
}

// ProblemMatcher lets VS Code track a background task. The emulator never
// prints anything worth matching, so every line both starts and ends it.
type ProblemMatcher struct {
	Pattern    []Pattern   `json:"pattern"`
	Background *Background `json:"background,omitempty"`
}

// Pattern is a problem matcher pattern.
type Pattern struct {
	Regexp   string `json:"regexp"`
	File     int    `json:"file"`
	Location int    `json:"location"`
	Message  int    `json:"message"`
}

// Background configures background task tracking.
type Background struct {
	ActiveOnStart bool   `json:"activeOnStart"`
	BeginsPattern string `json:"beginsPattern"`
	EndsPattern   string `json:"endsPattern"`
}

// Launch is a launch.json entry for the cppdbg debugger.
type Launch struct {
	PreLaunchTask           string         `json:"preLaunchTask"`
	Name                    string         `json:"name"`
	Type                    string         `json:"type"`
	Request                 string         `json:"request"`
	Program                 string         `json:"program"`
	Args                    []string       `json:"args"`
	Cwd                     string         `json:"cwd"`
	StopAtEntry             bool           `json:"stopAtEntry"`
	Environment             []string       `json:"environment"`
	ExternalConsole         bool           `json:"externalConsole"`
	MIMode                  string         `json:"MIMode"`
	SetupCommands           []SetupCommand `json:"setupCommands"`
	MIDebuggerPath          string         `json:"miDebuggerPath"`
	MIDebuggerServerAddress string         `json:"miDebuggerServerAddress"`
}

// SetupCommand is a gdb command run when the debugger starts.
type SetupCommand struct {
	Description    string `json:"description"`
	Text           string `json:"text"`
	IgnoreFailures bool   `json:"ignoreFailures"`
}

// BuildTask returns the default build task running command from the
// workspace folder.
func BuildTask(command string) Task {
	return Task{
		Label:          BuildTaskLabel,
		Type:           "shell",
		Command:        command,
		ProblemMatcher: []ProblemMatcher{},
		Group:          &TaskGroup{Kind: "build", IsDefault: true},
	}
}

// DebugTask returns the background task that boots image under the emulator
// and waits for gdb on port. image is relative to the workspace folder.
func DebugTask(qemuBin, machine, image string, port int) Task {
	cmd := fmt.Sprintf("%s -gdb tcp::%d -S -nographic -machine %s -drive file=%s,if=mtd,format=raw -no-reboot",
		qemuBin, port, machine, inWorkspace(image))
	return Task{
		Label:        DebugTaskLabel,
		Type:         "shell",
		IsBackground: true,
		DependsOn:    []string{BuildTaskLabel},
		Command:      cmd,
		ProblemMatcher: []ProblemMatcher{{
			Pattern: []Pattern{{Regexp: ".", File: 1, Location: 2, Message: 3}},
			Background: &Background{
				ActiveOnStart: true,
				BeginsPattern: ".",
				EndsPattern:   ".",
			},
		}},
	}
}

// AttachLaunch returns the launch entry that debugs program through gdbPath
// against the emulator's gdb stub on localhost:port.
func AttachLaunch(program, gdbPath string, port int) Launch {
	return Launch{
		PreLaunchTask:   DebugTaskLabel,
		Name:            LaunchName,
		Type:            "cppdbg",
		Request:         "launch",
		Program:         inWorkspace(program),
		Args:            []string{},
		Cwd:             workspaceFolder,
		StopAtEntry:     true,
		Environment:     []string{},
		ExternalConsole: false,
		MIMode:          "gdb",
		SetupCommands: []SetupCommand{{
			Description:    "Enable pretty-printing for gdb",
			Text:           "-enable-pretty-printing",
			IgnoreFailures: true,
		}},
		MIDebuggerPath:          gdbPath,
		MIDebuggerServerAddress: fmt.Sprintf("localhost:%d", port),
	}
}

// ErrGDBNotFound is returned when no gdb binary exists under the search root.
var ErrGDBNotFound = errors.New("gdb not found")

// FindGDB walks root and returns the first regular file named name.
func FindGDB(root, name string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != name {
			return nil
		}
		found = path
		return fs.SkipAll
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrGDBNotFound, root)
		}
		return "", fmt.Errorf("searching %s for %s: %w", root, name, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: no %s under %s", ErrGDBNotFound, name, root)
	}
	return found, nil
}

// Payloads bundles the editor entries for one unit test build.
type Payloads struct {
	BuildTask Task
	DebugTask Task
	Launch    Launch
}

// Entry is a titled JSON payload.
type Entry struct {
	Title string
	Body  json.RawMessage
}

// Entries marshals the payloads with 2-space indentation, in the order an
// editor needs them.
func (p Payloads) Entries() ([]Entry, error) {
	items := []struct {
		title string
		v     any
	}{
		{"tasks.json entry for building QEMU unittests:", p.BuildTask},
		{"tasks.json entry for running QEMU unittests under gdb:", p.DebugTask},
		{"launch.json entry for attaching debug to QEMU unit tests:", p.Launch},
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		body, err := json.MarshalIndent(it.v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshalling %q: %w", it.title, err)
		}
		out = append(out, Entry{Title: it.title, Body: body})
	}
	return out, nil
}

// Render writes every entry as a heading followed by its JSON body.
func (p Payloads) Render(w io.Writer) error {
	entries, err := p.Entries()
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Title)
		b.WriteByte('\n')
		b.Write(e.Body)
		b.WriteByte('\n')
	}
	_, err = io.WriteString(w, b.String())
	return err
}

// RelPath returns path relative to root when it lies inside it, otherwise
// path unchanged. Editor payloads prefix relative paths with the workspace
// folder.
func RelPath(root, path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func inWorkspace(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return workspaceFolder + "/" + filepath.ToSlash(path)
}
