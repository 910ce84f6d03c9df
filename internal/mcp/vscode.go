package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type vscodeParams struct{}

func (h *handler) vscodeHandler(ctx context.Context, _ *mcp.CallToolRequest, _ vscodeParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result, payloads, err := h.engine.VSCode(ctx)
	if result != nil {
		if serr := h.store.Save(result.RunResult); serr != nil {
			h.logger.Warn("run_save_failed", "run_id", result.RunResult.ID, "error", serr)
		}
	}
	if err != nil {
		return errorResult(fmt.Sprintf("run aborted: %v", err))
	}
	if payloads == nil {
		return textResult(formatRun(result))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n\n", result.RunResult.ID, result.RunResult.Kind)
	if err := payloads.Render(&b); err != nil {
		return errorResult(fmt.Sprintf("rendering payloads: %v", err))
	}
	return textResult(b.String())
}
