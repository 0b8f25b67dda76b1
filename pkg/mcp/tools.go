package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/seqrun/seqrun/pkg/schema"
)

func runTool() mcp.Tool {
	return mcp.NewTool("seqrun.run",
		mcp.WithDescription("Execute a workflow definition and return the terminal run record"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition: id, name, steps")),
		mcp.WithObject("input", mcp.Description("Run input, addressable in steps as input.*")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("seqrun.status",
		mcp.WithDescription("Fetch a stored run record"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to fetch")),
	)
}

func toolsTool() mcp.Tool {
	return mcp.NewTool("seqrun.tools",
		mcp.WithDescription("List the registered tool handlers"),
	)
}

// handleRun decodes a workflow definition, executes it synchronously,
// and returns the terminal run record. A failed run is a normal result,
// not a transport error: the record carries the error taxonomy.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wfMap := mcp.ParseStringMap(req, "workflow", nil)
	if wfMap == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	wf, err := decodeWorkflow(wfMap)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow definition: %v", err)), nil
	}

	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		s.logger.WarnContext(ctx, "failed to record workflow definition", slog.String("error", err.Error()))
	}

	run, runErr := s.runner.Execute(ctx, wf, input)
	if run == nil && runErr != nil {
		// Validation rejected the definition before a run existed.
		return mcp.NewToolResultError(runErr.Error()), nil
	}
	return marshalResult(run)
}

// handleStatus returns the stored record for one run.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
	}
	return marshalResult(run)
}

// handleTools lists the registered tool handlers.
func (s *Server) handleTools(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"tools": s.registry.List()})
}

func decodeWorkflow(m map[string]any) (*schema.Workflow, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
