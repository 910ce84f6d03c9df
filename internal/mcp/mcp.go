// Package mcp provides the qemurun MCP server, exposing the firmware
// workflows as tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/qemurun"
	"github.com/deixis/qemurun/internal/config"
	"github.com/deixis/qemurun/internal/report"
	"github.com/deixis/qemurun/internal/runner"
	"github.com/deixis/qemurun/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	// mu serialises tool calls: one child process at a time.
	mu     sync.Mutex
	engine *workflow.Engine
	runner *runner.Runner // nil when the engine uses another CommandRunner
	store  report.Store
	logger *slog.Logger
}

// NewServer creates an MCP server with all qemurun tools registered.
func NewServer(engine *workflow.Engine, store report.Store, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}
	h := &handler{
		engine: engine,
		runner: so.runner,
		store:  store,
		logger: so.logger,
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "qemurun", Version: qemurun.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "qemu_workspace",
		Description: "Summarise the firmware project: root directory, build target, emulator settings and which tools are installed.",
	}, h.workspaceHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "qemu_unittest",
		Description: `Build the unit tests, save their flash image and run it in QEMU until the test harness prints its result.

Steps: build-unittest, save-image, emulator. Stops at the first failure.
Set no_run to only build. Results are stored for drill-down via qemu_inspect.`,
	}, h.unittestHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "qemu_app",
		Description: `Build the application image and boot it in QEMU.

Steps: build-app, emulator. Set no_run to only build.
Results are stored for drill-down via qemu_inspect.`,
	}, h.appHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "qemu_vscode",
		Description: `Rebuild the unit test image and return tasks.json and launch.json entries for debugging it under QEMU with gdb.`,
	}, h.vscodeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "qemu_inspect",
		Description: `Drill into a stored run: the command, exit status and last output lines of one step.

Use the run_id from a qemu_unittest, qemu_app or qemu_vscode result. Omit step to get the failed step.`,
	}, h.inspectHandler)

	return s
}

// ServerOption configures the qemurun MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	runner *runner.Runner
	logger *slog.Logger
}

// WithRunner lets the server move the runner's workspace when the client
// announces its root.
func WithRunner(r *runner.Runner) ServerOption {
	return func(o *serverOptions) {
		o.runner = r
	}
}

// WithLogger sets the logger for server events.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = l
	}
}

// updateWorkspaceFromRoots queries the client for MCP roots and reloads the
// configuration from the first file root. This is called during session
// initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	workspace := u.Path

	loaded, err := config.Load(workspace)
	if err != nil {
		h.logger.Warn("config_reload_failed", "workspace", workspace, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runner != nil {
		h.runner.Workspace = loaded.RepoRoot
		h.runner.Shell = loaded.Config.ShellPath()
	}
	h.engine.Config = loaded.Config
	h.engine.RepoRoot = loaded.RepoRoot
	h.logger.Info("workspace_updated", "root", loaded.RepoRoot)
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
