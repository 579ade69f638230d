package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/interview"
	"github.com/kalambet/intake/internal/storage"
)

// --- mocks ---

type mockMCPRecaller struct {
	results []storage.ScoredMemory
	err     error
}

func (m *mockMCPRecaller) Recall(_ context.Context, _, _ string, _ int) ([]storage.ScoredMemory, error) {
	return m.results, m.err
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *fixture) {
	t.Helper()
	f := newFixture(t)
	return MCPDeps{
		Service:  f.svc,
		Recaller: &mockMCPRecaller{},
		Owner:    "local",
	}, f
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func toolStep(t *testing.T, result *mcp.CallToolResult) interview.Step {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var step interview.Step
	if err := json.Unmarshal([]byte(toolText(t, result)), &step); err != nil {
		t.Fatalf("failed to parse step: %v", err)
	}
	return step
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_StartAssessment(t *testing.T) {
	deps, f := newTestMCPDeps(t)
	handler := mcpStartAssessment(deps)

	result, err := handler(context.Background(), makeCallToolRequest("start_assessment", map[string]interface{}{
		"language":     "en",
		"country_code": "uk",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := toolStep(t, result)
	if step.Question == nil || step.Question.ID != assessment.BaselineSexID {
		t.Fatalf("unexpected step: %+v", step)
	}

	sess, err := f.store.GetSession(context.Background(), step.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.UserID != "local" || sess.CountryCode != "UK" || sess.Language != assessment.LocaleEN {
		t.Errorf("stored session = %+v", sess)
	}
}

func TestMCPTool_AnswerQuestion(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	start, _ := mcpStartAssessment(deps)(context.Background(), makeCallToolRequest("start_assessment", map[string]interface{}{"language": "en"}))
	step := toolStep(t, start)
	answer := mcpAnswerQuestion(deps)

	tests := []struct {
		name  string
		value string
		next  string
	}{
		{"json string", `"female"`, assessment.BaselineAgeID},
		{"bare text", "30-44", assessment.BaselineSmokingID},
		{"bare text again", "never", assessment.ChiefComplaintID},
	}
	for _, tt := range tests {
		result, err := answer(context.Background(), makeCallToolRequest("answer_question", map[string]interface{}{
			"session_id":  step.SessionID,
			"question_id": step.Question.ID,
			"value":       tt.value,
		}))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		step = toolStep(t, result)
		if step.Question.ID != tt.next {
			t.Fatalf("%s: next question = %s, want %s", tt.name, step.Question.ID, tt.next)
		}
	}
}

func TestMCPTool_AnswerQuestion_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	answer := mcpAnswerQuestion(deps)

	tests := []struct {
		name   string
		args   map[string]interface{}
		prefix string
	}{
		{"missing session", map[string]interface{}{"question_id": "q", "value": "x"}, "session_id is required"},
		{"missing value", map[string]interface{}{"session_id": "s", "question_id": "q"}, "value is required"},
		{"unknown session", map[string]interface{}{"session_id": "s", "question_id": "q", "value": "x"}, "SESSION_NOT_FOUND:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := answer(context.Background(), makeCallToolRequest("answer_question", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError || !strings.HasPrefix(toolText(t, result), tt.prefix) {
				t.Fatalf("result = %q, want error starting with %q", toolText(t, result), tt.prefix)
			}
		})
	}
}

func TestMCPTool_GetReport(t *testing.T) {
	deps, f := newTestMCPDeps(t)
	ctx := context.Background()
	f.store.SaveReport(ctx, "s1", "local", assessment.Report{Urgency: assessment.UrgencyUrgent}, assessment.LocaleEN)
	f.store.SaveReport(ctx, "s2", "someone-else", assessment.Report{Urgency: assessment.UrgencyRoutine}, assessment.LocaleEN)
	handler := mcpGetReport(deps)

	result, err := handler(ctx, makeCallToolRequest("get_report", map[string]interface{}{"session_id": "s1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sr storage.StoredReport
	if err := json.Unmarshal([]byte(toolText(t, result)), &sr); err != nil {
		t.Fatalf("failed to parse report: %v", err)
	}
	if sr.Report.Urgency != assessment.UrgencyUrgent {
		t.Errorf("urgency = %s", sr.Report.Urgency)
	}

	result, _ = handler(ctx, makeCallToolRequest("get_report", map[string]interface{}{"session_id": "s2"}))
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "NOT_FOUND:") {
		t.Fatalf("foreign report result = %q", toolText(t, result))
	}
}

func TestMCPTool_Recall(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Recaller = &mockMCPRecaller{results: []storage.ScoredMemory{
		{Memory: storage.Memory{ID: "m1", Summary: "Chief complaint: headache"}, Score: 0.91},
		{Memory: storage.Memory{ID: "m2", Summary: "Chief complaint: cough"}, Score: 0.42},
	}}

	result, err := mcpRecall(deps)(context.Background(), makeCallToolRequest("recall_assessments", map[string]interface{}{
		"query": "headache",
		"limit": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []json.RawMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(got))
	}
}

func TestMCPTool_Recall_EmptyResult(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, _ := mcpRecall(deps)(context.Background(), makeCallToolRequest("recall_assessments", map[string]interface{}{"query": "x"}))
	if result.IsError || toolText(t, result) != "[]" {
		t.Fatalf("expected empty array, got %q", toolText(t, result))
	}
}

func TestMCPTool_Recall_Error(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Recaller = &mockMCPRecaller{err: errors.New("embedding service down")}
	result, _ := mcpRecall(deps)(context.Background(), makeCallToolRequest("recall_assessments", map[string]interface{}{"query": "x"}))
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "INTERNAL_ERROR:") {
		t.Fatalf("result = %q", toolText(t, result))
	}
}

func TestMCPResource_Sessions(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()
	start := mcpStartAssessment(deps)
	start(ctx, makeCallToolRequest("start_assessment", nil))
	start(ctx, makeCallToolRequest("start_assessment", map[string]interface{}{"force_new": true}))

	contents, err := mcpResourceSessions(deps)(ctx, makeReadResourceRequest("assessment://sessions"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var sessions []map[string]string
	if err := json.Unmarshal([]byte(trc.Text), &sessions); err != nil {
		t.Fatalf("failed to parse sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	statuses := map[string]bool{}
	for _, s := range sessions {
		statuses[s["status"]] = true
	}
	if !statuses["active"] || !statuses["expired"] {
		t.Errorf("statuses = %v, want one active and one expired", statuses)
	}
}

func listedTools(t *testing.T, deps MCPDeps) string {
	t.Helper()
	s := NewMCPServer(deps)
	ctx := context.Background()
	s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`))
	resp := s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal tools/list response: %v", err)
	}
	return string(b)
}

func TestMCPServer_RegistersRecallOnlyWithRecaller(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if !strings.Contains(listedTools(t, deps), "recall_assessments") {
		t.Error("recall_assessments missing with a recaller")
	}
	deps.Recaller = nil
	tools := listedTools(t, deps)
	if strings.Contains(tools, "recall_assessments") {
		t.Error("recall_assessments registered without a recaller")
	}
	if !strings.Contains(tools, "start_assessment") {
		t.Error("start_assessment missing")
	}
}

func TestMCPServer_ConcurrentStarts(t *testing.T) {
	deps, f := newTestMCPDeps(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := deps
			d.Owner = "user-" + string(rune('a'+i))
			result, err := mcpStartAssessment(d)(context.Background(), makeCallToolRequest("start_assessment", nil))
			if err != nil {
				errs <- err
				return
			}
			if result.IsError {
				errs <- errors.New(toolText(t, result))
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent start failed: %v", err)
	}
	sessions, err := f.store.ListSessions(context.Background(), "user-c", 10)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("user-c sessions = %d, %v", len(sessions), err)
	}
}
