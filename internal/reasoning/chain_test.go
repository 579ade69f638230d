package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/intake/internal/ollama"
)

// fakeBackend returns a canned reply or error and counts calls.
type fakeBackend struct {
	name  string
	reply string
	err   error
	calls int
	delay time.Duration
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, _ []Message) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

var msgs = []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "next"}}

func TestInvokeFirstSucceeds(t *testing.T) {
	a := &fakeBackend{name: "a", reply: "A"}
	b := &fakeBackend{name: "b", reply: "B"}

	got, err := NewChain(0, a, b).Invoke(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.Text != "A" || got.Backend != "a" {
		t.Errorf("Reply = %+v", got)
	}
	if b.calls != 0 {
		t.Errorf("second candidate called %d times, want 0", b.calls)
	}
}

func TestInvokeFallsThroughInOrder(t *testing.T) {
	a := &fakeBackend{name: "a", err: errors.New("boom")}
	b := &fakeBackend{name: "b", reply: "   "}
	c := &fakeBackend{name: "c", reply: "C"}
	d := &fakeBackend{name: "d", reply: "D"}

	got, err := NewChain(0, a, b, c, d).Invoke(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.Backend != "c" {
		t.Errorf("Backend = %q, want c", got.Backend)
	}
	for _, f := range []*fakeBackend{a, b, c} {
		if f.calls != 1 {
			t.Errorf("%s called %d times, want exactly 1", f.name, f.calls)
		}
	}
	if d.calls != 0 {
		t.Errorf("d called %d times, want 0", d.calls)
	}
}

func TestInvokeExhausted(t *testing.T) {
	sentinel := errors.New("quota")
	a := &fakeBackend{name: "a", err: sentinel}
	b := &fakeBackend{name: "b", err: errors.New("timeout")}

	_, err := NewChain(0, a, b).Invoke(context.Background(), msgs)

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if len(ex.Failures) != 2 || ex.Failures[0].Backend != "a" || ex.Failures[1].Backend != "b" {
		t.Errorf("Failures = %+v", ex.Failures)
	}
	if !errors.Is(err, sentinel) {
		t.Error("ExhaustedError should unwrap to candidate errors")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d, %d; want 1, 1", a.calls, b.calls)
	}
}

func TestInvokeNoCandidates(t *testing.T) {
	if _, err := NewChain(0).Invoke(context.Background(), msgs); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("error = %v, want ErrNoCandidates", err)
	}
}

func TestInvokePerAttemptTimeout(t *testing.T) {
	slow := &fakeBackend{name: "slow", reply: "late", delay: time.Second}
	fast := &fakeBackend{name: "fast", reply: "F"}

	got, err := NewChain(20*time.Millisecond, slow, fast).Invoke(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.Backend != "fast" {
		t.Errorf("Backend = %q, want fast", got.Backend)
	}
}

func TestProbe(t *testing.T) {
	a := &fakeBackend{name: "a", reply: `{"ok":true}`}
	b := &fakeBackend{name: "b", err: errors.New("denied")}

	res := NewChain(0, a, b).Probe(context.Background())
	if len(res) != 2 {
		t.Fatalf("len = %d", len(res))
	}
	if !res[0].OK || res[0].Backend != "a" {
		t.Errorf("res[0] = %+v", res[0])
	}
	if res[1].OK || res[1].Error != "denied" {
		t.Errorf("res[1] = %+v", res[1])
	}
}

func TestBuild(t *testing.T) {
	oc := ollama.New("http://localhost:11434")
	bs, err := Build([]string{"openai:deepseek/deepseek-chat", "ollama:qwen2.5:7b", "gpt-4o-mini"}, BuildOptions{Ollama: oc})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []string{"openai:deepseek/deepseek-chat", "ollama:qwen2.5:7b", "openai:gpt-4o-mini"}
	for i, w := range want {
		if bs[i].Name() != w {
			t.Errorf("bs[%d].Name() = %q, want %q", i, bs[i].Name(), w)
		}
	}
	if got := OllamaModels(bs); len(got) != 1 || got[0] != "qwen2.5:7b" {
		t.Errorf("OllamaModels = %v", got)
	}

	if _, err := Build([]string{"ollama:llama3"}, BuildOptions{}); err == nil {
		t.Error("expected error for ollama candidate without client")
	}
	if _, err := Build([]string{"openai:"}, BuildOptions{}); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestOpenAIBackend(t *testing.T) {
	var gotAuth, gotTitle string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(srv.URL+"/v1", "key-123", "deepseek/deepseek-chat", 0.3)
	out, err := b.Complete(context.Background(), []Message{{Role: "system", Content: "s"}, {Role: "tool", Content: "u"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("reply = %q", out)
	}
	if gotAuth != "Bearer key-123" || gotTitle != "intake" {
		t.Errorf("headers = %q, %q", gotAuth, gotTitle)
	}
	if body["model"] != "deepseek/deepseek-chat" {
		t.Errorf("model = %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 || msgs[1].(map[string]any)["role"] != "user" {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"model not allowed","type":"forbidden"}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(srv.URL, "k", "m", 0)
	_, err := NewChain(0, b).Invoke(context.Background(), msgs)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := UpstreamStatus(err); got != http.StatusForbidden {
		t.Errorf("UpstreamStatus = %d, want 403", got)
	}

	se := &ollama.StatusError{Op: "chat", StatusCode: http.StatusUnauthorized}
	if got := UpstreamStatus(&CandidateError{Backend: "ollama:x", Err: se}); got != http.StatusUnauthorized {
		t.Errorf("UpstreamStatus(ollama) = %d, want 401", got)
	}
	if got := UpstreamStatus(errors.New("plain")); got != 0 {
		t.Errorf("UpstreamStatus(plain) = %d, want 0", got)
	}
}
