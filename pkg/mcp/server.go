package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/seqrun/seqrun/internal/engine"
	"github.com/seqrun/seqrun/internal/store"
	"github.com/seqrun/seqrun/internal/tool"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner   *engine.Runner
	Store    store.Store
	Registry *tool.Registry
	Logger   *slog.Logger
}

// Server exposes the workflow engine over MCP: run a workflow, inspect
// a run, and list the registered tools.
type Server struct {
	runner    *engine.Runner
	store     store.Store
	registry  *tool.Registry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with the engine tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		runner:   deps.Runner,
		store:    deps.Store,
		registry: deps.Registry,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"seqrun",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Seqrun executes sequential step workflows. Use seqrun.run to execute a workflow definition, seqrun.status to fetch a run record, and seqrun.tools to list the invocable tools."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: toolsTool(), Handler: s.handleTools},
	}
}
