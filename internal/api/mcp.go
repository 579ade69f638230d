package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server. All calls run on behalf of
// Owner, the single local user of a stdio session.
type MCPDeps struct {
	Service  *Service
	Recaller Recaller // optional; if nil, recall_assessments is not registered
	Owner    string
	Version  string
}

// NewMCPServer creates an MCP server with the assessment tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"intake",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("intake runs an adaptive symptom interview. Start an assessment, relay each question to the user, answer with their choice, and stop at a report or an emergency."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_assessment",
			mcp.WithDescription("Start a new symptom assessment or resume the active one. Returns the next step as JSON."),
			mcp.WithString("language", mcp.Description("Response language: zh or en")),
			mcp.WithString("country_code", mcp.Description("ISO country code used for emergency numbers")),
			mcp.WithBoolean("force_new", mcp.Description("Abandon the active assessment and start over")),
		),
		mcpStartAssessment(deps),
	)

	s.AddTool(
		mcp.NewTool("answer_question",
			mcp.WithDescription("Answer the pending question of an assessment. Returns the next step as JSON."),
			mcp.WithString("session_id", mcp.Description("Assessment session id"), mcp.Required()),
			mcp.WithString("question_id", mcp.Description("Id of the question being answered"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Answer as JSON: a string, an array of option values, a boolean or a number"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Response language: zh or en")),
		),
		mcpAnswerQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("get_report",
			mcp.WithDescription("Fetch the stored report of a finished assessment."),
			mcp.WithString("session_id", mcp.Description("Assessment session id"), mcp.Required()),
		),
		mcpGetReport(deps),
	)

	if deps.Recaller != nil {
		s.AddTool(
			mcp.NewTool("recall_assessments",
				mcp.WithDescription("Search past assessments similar to a query."),
				mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
				mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			),
			mcpRecall(deps),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"assessment://sessions",
			"Recent Assessments",
			mcp.WithResourceDescription("Last 10 assessment sessions (status and complaint only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpStartAssessment(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		step, err := deps.Service.Start(ctx, deps.Owner, StartRequest{
			Language:    req.GetString("language", ""),
			CountryCode: req.GetString("country_code", ""),
			ForceNew:    req.GetBool("force_new", false),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(step)
	}
}

func mcpAnswerQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		questionID, err := req.RequireString("question_id")
		if err != nil {
			return mcpError("question_id is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			// Bare text is taken as a string answer.
			b, _ := json.Marshal(value)
			raw = b
		}

		step, err := deps.Service.Next(ctx, deps.Owner, NextRequest{
			SessionID: sessionID,
			Answer:    &AnswerRequest{QuestionID: questionID, Value: raw, InputMethod: "type"},
			Language:  req.GetString("language", ""),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(step)
	}
}

func mcpGetReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		sr, err := deps.Service.Report(ctx, deps.Owner, sessionID)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(sr)
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		res, err := deps.Recaller.Recall(ctx, deps.Owner, query, req.GetInt("limit", 5))
		if err != nil {
			return mcpFailure(err), nil
		}
		if len(res) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Service.Sessions(ctx, deps.Owner, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		type sessionSummary struct {
			ID             string `json:"id"`
			Phase          string `json:"phase"`
			Status         string `json:"status"`
			ChiefComplaint string `json:"chief_complaint,omitempty"`
			CreatedAt      string `json:"created_at"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, s := range sessions {
			summaries[i] = sessionSummary{
				ID:             s.ID,
				Phase:          string(s.Phase),
				Status:         string(s.Status),
				ChiefComplaint: s.ChiefComplaint,
				CreatedAt:      s.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpFailure reports err with its client-facing code.
func mcpFailure(err error) *mcp.CallToolResult {
	e := toAppError(err)
	return mcpError(fmt.Sprintf("%s: %s", e.Code, e.Message))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
