package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/kiroku-ai/kiroku/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("create_thought",
			mcplib.WithDescription("Record a thought: reasoning, observation, or idea. Optionally anchored to a plan."),
			mcplib.WithString("content", mcplib.Description("The thought content"), mcplib.Required()),
			mcplib.WithString("plan_id", mcplib.Description("Plan this thought is anchored to")),
			mcplib.WithBoolean("uncertainty", mcplib.Description("Mark the thought as an open question")),
		),
		s.handleCreateThought,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("bulk_create_thoughts",
			mcplib.WithDescription("Record multiple thoughts in one atomic batch. If any item is invalid the whole batch is rejected."),
			mcplib.WithArray("thoughts",
				mcplib.Description("Array of thought objects with content, optional plan_id, optional uncertainty"),
				mcplib.Required(),
			),
		),
		s.handleBulkCreateThoughts,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("create_plan",
			mcplib.WithDescription("Record a plan: an intended approach or strategy, optionally depending on other plans"),
			mcplib.WithString("title", mcplib.Description("Short plan title"), mcplib.Required()),
			mcplib.WithString("description", mcplib.Description("What the plan intends to do"), mcplib.Required()),
			mcplib.WithString("status", mcplib.Description("Initial status: todo, in-progress, blocked, or done (default todo)")),
			mcplib.WithArray("dependencies",
				mcplib.Description("IDs of plans this plan depends on"),
			),
		),
		s.handleCreatePlan,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("log_change",
			mcplib.WithDescription("Record a change that was made, citing the plan it executed and optionally the thoughts behind it"),
			mcplib.WithString("description", mcplib.Description("What was changed"), mcplib.Required()),
			mcplib.WithString("plan_id", mcplib.Description("Plan this change executed"), mcplib.Required()),
			mcplib.WithArray("thought_ids",
				mcplib.Description("IDs of thoughts that informed this change"),
			),
		),
		s.handleLogChange,
	)

	// The only mutation plans support.
	s.mcpServer.AddTool(
		mcplib.NewTool("update_plan_status",
			mcplib.WithDescription("Update a plan's status. The transition is appended to the plan's status history."),
			mcplib.WithString("plan_id", mcplib.Description("Plan to update"), mcplib.Required()),
			mcplib.WithString("status", mcplib.Description("New status: todo, in-progress, blocked, or done"), mcplib.Required()),
		),
		s.handleUpdatePlanStatus,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("associate_thought_plan",
			mcplib.WithDescription("Associate an existing thought with an existing plan. Idempotent."),
			mcplib.WithString("thought_id", mcplib.Description("Thought to associate"), mcplib.Required()),
			mcplib.WithString("plan_id", mcplib.Description("Plan to associate"), mcplib.Required()),
		),
		s.handleAssociateThoughtPlan,
	)

	// Point lookups.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_thought_by_id",
			mcplib.WithDescription("Retrieve a single thought by its ID"),
			mcplib.WithString("thought_id", mcplib.Description("Thought ID"), mcplib.Required()),
		),
		s.handleGetThought,
	)
	s.mcpServer.AddTool(
		mcplib.NewTool("get_plan_by_id",
			mcplib.WithDescription("Retrieve a single plan by its ID, including dependencies and associated thoughts"),
			mcplib.WithString("plan_id", mcplib.Description("Plan ID"), mcplib.Required()),
		),
		s.handleGetPlan,
	)
	s.mcpServer.AddTool(
		mcplib.NewTool("get_change_by_id",
			mcplib.WithDescription("Retrieve a single changelog entry by its ID"),
			mcplib.WithString("change_id", mcplib.Description("Changelog entry ID"), mcplib.Required()),
		),
		s.handleGetChange,
	)

	// Listings, newest first.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_all_thoughts",
			mcplib.WithDescription("List thoughts, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return (default 50)")),
			mcplib.WithNumber("offset", mcplib.Description("Number of results to skip")),
		),
		s.handleListThoughts,
	)
	s.mcpServer.AddTool(
		mcplib.NewTool("get_all_plans",
			mcplib.WithDescription("List plans, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return (default 50)")),
			mcplib.WithNumber("offset", mcplib.Description("Number of results to skip")),
		),
		s.handleListPlans,
	)
	s.mcpServer.AddTool(
		mcplib.NewTool("get_all_changes",
			mcplib.WithDescription("List changelog entries, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return (default 50)")),
			mcplib.WithNumber("offset", mcplib.Description("Number of results to skip")),
		),
		s.handleListChanges,
	)
}

func (s *Server) handleCreateThought(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.CreateThoughtRequest{
		Content:     request.GetString("content", ""),
		Uncertainty: request.GetBool("uncertainty", false),
		AgentID:     agentIDFromContext(ctx),
	}
	if planID := request.GetString("plan_id", ""); planID != "" {
		req.PlanID = &planID
	}

	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	thought, err := s.db.CreateThought(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to create thought: %v", err)), nil
	}
	return jsonResult(thought), nil
}

func (s *Server) handleBulkCreateThoughts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw, ok := request.GetArguments()["thoughts"]
	if !ok {
		return errorResult("thoughts is required"), nil
	}

	// Round-trip through JSON to coerce the untyped argument array.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid thoughts argument: %v", err)), nil
	}
	var reqs []model.CreateThoughtRequest
	if err := json.Unmarshal(encoded, &reqs); err != nil {
		return errorResult(fmt.Sprintf("invalid thoughts argument: %v", err)), nil
	}
	if len(reqs) == 0 {
		return errorResult("thoughts must not be empty"), nil
	}

	agentID := agentIDFromContext(ctx)
	for i := range reqs {
		reqs[i].AgentID = agentID
	}

	created, itemErrs, err := s.db.BulkCreateThoughts(ctx, reqs)
	if err != nil {
		if len(itemErrs) > 0 {
			return jsonResultError(map[string]any{
				"message": "batch rejected, no items were created",
				"errors":  itemErrs,
			}), nil
		}
		return errorResult(fmt.Sprintf("failed to create thoughts: %v", err)), nil
	}
	return jsonResult(created), nil
}

func (s *Server) handleCreatePlan(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := model.PlanStatus(request.GetString("status", string(model.PlanStatusTodo)))
	req := model.CreatePlanRequest{
		Title:        request.GetString("title", ""),
		Description:  request.GetString("description", ""),
		Status:       status,
		Dependencies: stringSliceArg(request, "dependencies"),
		AgentID:      agentIDFromContext(ctx),
	}

	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	plan, err := s.db.CreatePlan(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to create plan: %v", err)), nil
	}
	return jsonResult(plan), nil
}

func (s *Server) handleLogChange(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.CreateChangeRequest{
		Description: request.GetString("description", ""),
		PlanID:      request.GetString("plan_id", ""),
		ThoughtIDs:  stringSliceArg(request, "thought_ids"),
		AgentID:     agentIDFromContext(ctx),
	}

	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	change, err := s.db.CreateChange(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to log change: %v", err)), nil
	}
	return jsonResult(change), nil
}

func (s *Server) handleUpdatePlanStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	planID := request.GetString("plan_id", "")
	if planID == "" {
		return errorResult("plan_id is required"), nil
	}
	req := model.UpdatePlanStatusRequest{
		Status:  model.PlanStatus(request.GetString("status", "")),
		AgentID: agentIDFromContext(ctx),
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	plan, err := s.db.UpdatePlanStatus(ctx, planID, req)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to update plan status: %v", err)), nil
	}
	return jsonResult(plan), nil
}

func (s *Server) handleAssociateThoughtPlan(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	thoughtID := request.GetString("thought_id", "")
	planID := request.GetString("plan_id", "")
	if thoughtID == "" || planID == "" {
		return errorResult("thought_id and plan_id are required"), nil
	}

	if err := s.db.AssociateThoughtPlan(ctx, thoughtID, planID); err != nil {
		return errorResult(fmt.Sprintf("failed to associate: %v", err)), nil
	}
	return jsonResult(map[string]string{
		"thought_id": thoughtID,
		"plan_id":    planID,
		"status":     "associated",
	}), nil
}

func (s *Server) handleGetThought(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	thought, err := s.db.GetThoughtByID(ctx, request.GetString("thought_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get thought: %v", err)), nil
	}
	return jsonResult(thought), nil
}

func (s *Server) handleGetPlan(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	plan, err := s.db.GetPlanByID(ctx, request.GetString("plan_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get plan: %v", err)), nil
	}
	return jsonResult(plan), nil
}

func (s *Server) handleGetChange(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	change, err := s.db.GetChangeByID(ctx, request.GetString("change_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get change: %v", err)), nil
	}
	return jsonResult(change), nil
}

func (s *Server) handleListThoughts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	thoughts, total, err := s.db.ListThoughts(ctx,
		request.GetInt("limit", 50), request.GetInt("offset", 0))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list thoughts: %v", err)), nil
	}
	return jsonResult(map[string]any{"thoughts": thoughts, "total": total}), nil
}

func (s *Server) handleListPlans(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	plans, total, err := s.db.ListPlans(ctx,
		request.GetInt("limit", 50), request.GetInt("offset", 0))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list plans: %v", err)), nil
	}
	return jsonResult(map[string]any{"plans": plans, "total": total}), nil
}

func (s *Server) handleListChanges(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	changes, total, err := s.db.ListChanges(ctx,
		request.GetInt("limit", 50), request.GetInt("offset", 0))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list changes: %v", err)), nil
	}
	return jsonResult(map[string]any{"changes": changes, "total": total}), nil
}

// stringSliceArg extracts an array-of-strings tool argument. Non-string
// elements are skipped.
func stringSliceArg(request mcplib.CallToolRequest, key string) []string {
	raw, ok := request.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// jsonResultError serializes v like jsonResult but flags the result as an error.
func jsonResultError(v any) *mcplib.CallToolResult {
	res := jsonResult(v)
	res.IsError = true
	return res
}
