package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/qemurun/internal/report"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a qemu_unittest, qemu_app or qemu_vscode result"`
	Step  string `json:"step,omitempty" jsonschema:"step name (build-app, build-unittest, save-image, emulator, find-gdb); defaults to the failed step"`
}

func (h *handler) inspectHandler(_ context.Context, _ *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	var (
		step *report.Step
		ok   bool
	)
	if params.Step == "" {
		step, ok = result.Failed()
		if !ok {
			return textResult(fmt.Sprintf("Run %s (%s) has no failed step.", params.RunID, result.Kind))
		}
	} else {
		step, ok = result.FindStep(params.Step)
		if !ok {
			return errorResult(fmt.Sprintf("Run %s (%s) has no step %q.", params.RunID, result.Kind, params.Step))
		}
	}

	return textResult(formatInspectOutput(result, step))
}

func formatInspectOutput(rr *report.RunResult, step *report.Step) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", rr.ID, rr.Kind)
	fmt.Fprintf(&b, "Step: %s: %s\n", step.Name, step.Status)
	if step.Command != "" {
		fmt.Fprintf(&b, "Command: %s\n", step.Command)
	}
	if step.Exit != "" {
		fmt.Fprintf(&b, "Exit: %s\n", step.Exit)
	}
	if step.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", step.Detail)
	}
	if step.Name == "emulator" && rr.Test != nil {
		fmt.Fprintf(&b, "Result: %s\n", rr.Test.Banner)
	}

	if len(step.Output) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Output (last %d lines):\n", len(step.Output))
		for _, line := range step.Output {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}
