package workflow

import (
	"fmt"
	"os/exec"
	"strings"
)

// exitNotFound is the shell's exit code for a command it could not find.
const exitNotFound = 127

// toolInfo holds install metadata for a known tool.
type toolInfo struct {
	// Crate is installed with cargo install.
	Crate string
	// AltInstall is an install URL or instruction.
	AltInstall string
}

// knownTools maps tool binary names to their install metadata.
var knownTools = map[string]toolInfo{
	"cargo":              {AltInstall: "https://rustup.rs, then `espup install` for the xtensa toolchain"},
	"cargo-espflash":     {Crate: "cargo-espflash"},
	"espflash":           {Crate: "espflash"},
	"espup":              {Crate: "espup"},
	"qemu-system-xtensa": {AltInstall: "build https://github.com/espressif/qemu with --target-list=xtensa-softmmu"},
}

// ErrToolUnavailable is returned when a step's tool is not installed.
// It includes install instructions when the tool is known.
type ErrToolUnavailable struct {
	Name string
	Info *toolInfo
}

func NewErrToolUnavailable(name string) ErrToolUnavailable {
	e := ErrToolUnavailable{Name: name}
	if info, ok := knownTools[name]; ok {
		e.Info = &info
	}
	return e
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Info == nil {
		return b.String()
	}
	if e.Info.Crate != "" {
		fmt.Fprintf(&b, "\nInstall: cargo install %s", e.Info.Crate)
	}
	if e.Info.AltInstall != "" {
		fmt.Fprintf(&b, "\nInstall: %s", e.Info.AltInstall)
	}
	return b.String()
}

// ToolName returns the program a command line invokes, folding cargo
// subcommands into their cargo-<name> binary.
func ToolName(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "cargo" && len(fields) > 1 && fields[1] == "espflash" {
		return "cargo-espflash"
	}
	return name
}

// ToolStatus reports whether a tool needed by the workflows can be found.
type ToolStatus struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
	Install   string `json:"install,omitempty"`
}

// Tools looks up every tool the configured workflows invoke.
func (e *Engine) Tools() []ToolStatus {
	c := e.config()
	names := []string{"cargo", "cargo-espflash", "espflash", c.QEMUBinary()}
	out := make([]ToolStatus, 0, len(names))
	for _, n := range names {
		st := ToolStatus{Name: n}
		if path, err := exec.LookPath(n); err == nil {
			st.Path, st.Available = path, true
		} else {
			st.Install = NewErrToolUnavailable(ToolName(n)).Error()
		}
		out = append(out, st)
	}
	return out
}
