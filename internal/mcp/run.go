package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/qemurun/internal/workflow"
)

type runParams struct {
	NoRun     bool `json:"no_run,omitempty" jsonschema:"only build the image, do not boot it"`
	Debugging bool `json:"debugging,omitempty" jsonschema:"start QEMU halted with a gdb stub; the run then waits for a debugger"`
}

// maxFailureLines is the number of output lines shown for a failed step.
const maxFailureLines = 20

func (h *handler) unittestHandler(ctx context.Context, _ *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result, err := h.engine.Unittest(ctx, workflow.RunOptions{NoRun: params.NoRun, Debugging: params.Debugging})
	return h.finishRun(result, err)
}

func (h *handler) appHandler(ctx context.Context, _ *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result, err := h.engine.App(ctx, workflow.RunOptions{NoRun: params.NoRun, Debugging: params.Debugging})
	return h.finishRun(result, err)
}

func (h *handler) finishRun(result *workflow.PipelineResult, err error) (*mcp.CallToolResult, any, error) {
	if result != nil {
		// Save results for qemu_inspect.
		if serr := h.store.Save(result.RunResult); serr != nil {
			h.logger.Warn("run_save_failed", "run_id", result.RunResult.ID, "error", serr)
		}
	}
	if err != nil {
		return errorResult(fmt.Sprintf("run aborted: %v", err))
	}
	return textResult(formatRun(result))
}

func formatRun(result *workflow.PipelineResult) string {
	var b strings.Builder
	rr := result.RunResult

	if result.Passed() {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintln(&b, "Status: FAIL")
	}
	fmt.Fprintf(&b, "Run: %s (%s)\n", rr.ID, rr.Kind)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Steps:")
	for _, s := range result.Steps {
		if s.Status == "skipped" {
			fmt.Fprintf(&b, "  %s: %s\n", s.Name, s.Status)
			continue
		}
		fmt.Fprintf(&b, "  %s: %s (%s, %s)\n", s.Name, s.Status, s.Exit, s.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(&b)

	if rr.Executable != "" {
		fmt.Fprintf(&b, "Executable: %s\n", rr.Executable)
	}
	if rr.Image != "" {
		fmt.Fprintf(&b, "Image: %s\n", rr.Image)
	}
	if rr.Test != nil {
		fmt.Fprintf(&b, "Result: %s\n", rr.Test.Banner)
	}

	if !result.Passed() {
		failed := result.Steps[result.FailedIdx]
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Failed step: %s\n", failed.Name)
		if failed.Detail != "" {
			fmt.Fprintf(&b, "%s\n", failed.Detail)
		}
		if out := tail(failed.Output, maxFailureLines); len(out) > 0 {
			fmt.Fprintln(&b)
			fmt.Fprintln(&b, "Output:")
			for _, line := range out {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return b.String()
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
