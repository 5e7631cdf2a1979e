package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/request"
	"github.com/chainwright/chainwright/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitQueryTool(),
		s.getRequestTool(),
		s.listRequestsTool(),
		s.getReasoningTrailTool(),
		s.listPlanVersionsTool(),
		s.getCurrentCritiqueTool(),
		s.answerFeedbackTool(),
		s.resumeRequestTool(),
	)
}

func (s *Server) submitQueryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_query",
		mcplib.WithDescription("Submit a user query to the reasoning pipeline and start the agent chain"),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("The user query to reason about"),
		),
		mcplib.WithString("request_id",
			mcplib.Description("Optional client-chosen request id; generated when omitted"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleSubmitQuery,
	}
}

func (s *Server) getRequestTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_request",
		mcplib.WithDescription("Get the lifecycle state of a pipeline request, including pause state"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The request id to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetRequest,
	}
}

func (s *Server) listRequestsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_requests",
		mcplib.WithDescription("List all pipeline requests with their status and agent chain"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListRequests,
	}
}

func (s *Server) getReasoningTrailTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_reasoning_trail",
		mcplib.WithDescription("Get the ordered event trail recorded for a request"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The request id whose trail to load"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetReasoningTrail,
	}
}

func (s *Server) listPlanVersionsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_plan_versions",
		mcplib.WithDescription("List every plan version produced for a request, oldest first"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The request id whose plans to list"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListPlanVersions,
	}
}

func (s *Server) getCurrentCritiqueTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_current_critique",
		mcplib.WithDescription("Get the latest critique for a request, including open follow-up questions"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The request id whose critique to load"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetCurrentCritique,
	}
}

func (s *Server) answerFeedbackTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("answer_feedback",
		mcplib.WithDescription("Answer a critique's follow-up questions or refine the query; produces a new critique"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The request id the feedback belongs to"),
		),
		mcplib.WithString("answers",
			mcplib.Description(`JSON array of answers: [{"question_id":"q1","answer":"..."}]`),
		),
		mcplib.WithString("refined_query",
			mcplib.Description("Replacement user query; triggers a full replan"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleAnswerFeedback,
	}
}

func (s *Server) resumeRequestTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("resume_request",
		mcplib.WithDescription("Resume a request paused on a review or escalate decision"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The paused request id to resume"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleResumeRequest,
	}
}

// requestState is the get_request payload: the request context plus the
// pause details when the pipeline is waiting on human sign-off.
type requestState struct {
	*request.RequestContext
	Paused *service.PauseInfo `json:"paused,omitempty"`
}

func (s *Server) handleSubmitQuery(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.PipelineRunner == nil {
		return mcplib.NewToolResultError("pipeline runner not configured"), nil
	}
	args := req.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	requestID, _ := args["request_id"].(string)
	rc, err := s.deps.PipelineRunner.Submit(ctx, request.CreateRequest{
		RequestID: requestID,
		UserQuery: query,
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit query", err), nil
	}
	data, err := json.Marshal(rc)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal request", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetRequest(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.RequestReader == nil {
		return mcplib.NewToolResultError("request reader not configured"), nil
	}
	requestID, ok := req.GetArguments()["request_id"].(string)
	if !ok || requestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	rc, err := s.deps.RequestReader.Get(ctx, requestID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get request %s", requestID), err,
		), nil
	}
	state := requestState{RequestContext: rc}
	if s.deps.PipelineRunner != nil {
		if info, paused := s.deps.PipelineRunner.Paused(requestID); paused {
			state.Paused = &info
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal request", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListRequests(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.RequestReader == nil {
		return mcplib.NewToolResultError("request reader not configured"), nil
	}
	requests, err := s.deps.RequestReader.List(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list requests", err), nil
	}
	data, err := json.Marshal(requests)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal requests", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetReasoningTrail(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.TrailReader == nil {
		return mcplib.NewToolResultError("trail reader not configured"), nil
	}
	requestID, ok := req.GetArguments()["request_id"].(string)
	if !ok || requestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	events, err := s.deps.TrailReader.LoadByRequest(ctx, requestID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to load trail for %s", requestID), err,
		), nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal trail", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListPlanVersions(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.ArtifactReader == nil {
		return mcplib.NewToolResultError("artifact reader not configured"), nil
	}
	requestID, ok := req.GetArguments()["request_id"].(string)
	if !ok || requestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	plans, err := s.deps.ArtifactReader.ListPlans(ctx, requestID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to list plans for %s", requestID), err,
		), nil
	}
	data, err := json.Marshal(plans)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plans", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetCurrentCritique(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.ArtifactReader == nil {
		return mcplib.NewToolResultError("artifact reader not configured"), nil
	}
	requestID, ok := req.GetArguments()["request_id"].(string)
	if !ok || requestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	cr, err := s.deps.ArtifactReader.CurrentCritique(ctx, requestID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get critique for %s", requestID), err,
		), nil
	}
	data, err := json.Marshal(cr)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal critique", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleAnswerFeedback(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.PipelineRunner == nil {
		return mcplib.NewToolResultError("pipeline runner not configured"), nil
	}
	args := req.GetArguments()
	requestID, ok := args["request_id"].(string)
	if !ok || requestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	var answers []critique.FeedbackAnswer
	if raw, _ := args["answers"].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &answers); err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to parse answers", err), nil
		}
	}
	refined, _ := args["refined_query"].(string)
	if len(answers) == 0 && refined == "" {
		return mcplib.NewToolResultError("answers or refined_query is required"), nil
	}
	res, err := s.deps.PipelineRunner.Feedback(ctx, requestID, service.FeedbackRequest{
		Answers:          answers,
		RefinedUserQuery: refined,
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to apply feedback to %s", requestID), err,
		), nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal feedback result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleResumeRequest(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.PipelineRunner == nil {
		return mcplib.NewToolResultError("pipeline runner not configured"), nil
	}
	requestID, ok := req.GetArguments()["request_id"].(string)
	if !ok || requestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	rc, err := s.deps.PipelineRunner.Resume(ctx, requestID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to resume request %s", requestID), err,
		), nil
	}
	data, err := json.Marshal(rc)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal request", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// toolResultJSON wraps already-marshaled JSON as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
