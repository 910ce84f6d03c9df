package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type workspaceParams struct{}

func (h *handler) workspaceHandler(_ context.Context, _ *sdkmcp.CallToolRequest, _ workspaceParams) (*sdkmcp.CallToolResult, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg := h.engine.Config
	if cfg == nil {
		return errorResult("no configuration loaded")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Root: %s\n", h.engine.RepoRoot)
	fmt.Fprintf(&b, "Target: %s (chip %s)\n", cfg.Target(), cfg.Chip())
	fmt.Fprintf(&b, "Partition table: %s\n", cfg.PartitionTable())
	fmt.Fprintf(&b, "App image: %s\n", cfg.AppImage())
	fmt.Fprintf(&b, "Unittest image: %s\n", cfg.UnittestImage())
	fmt.Fprintf(&b, "QEMU: %s -machine %s (gdb port %d, kill scope %s)\n",
		cfg.QEMUBinary(), cfg.Machine(), cfg.GDBPort(), cfg.KillScope())
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Tools:")
	for _, t := range h.engine.Tools() {
		if t.Available {
			fmt.Fprintf(&b, "  %s: %s\n", t.Name, t.Path)
			continue
		}
		fmt.Fprintf(&b, "  %s: missing\n", t.Name)
		for _, line := range strings.Split(t.Install, "\n")[1:] {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return textResult(b.String())
}
