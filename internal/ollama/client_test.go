package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	var r tagsResponse
	for _, n := range names {
		r.Models = append(r.Models, struct {
			Name string `json:"name"`
		}{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("qwen2.5:7b"))
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	if !New(up.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false for a live server")
	}
	if New(down.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true for a closed server")
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("qwen2.5:7b", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	tests := []struct {
		name string
		want bool
	}{
		{"qwen2.5:7b", true},
		{"nomic-embed-text", true},
		{"qwen2.5", true},
		{"llama3", false},
	}
	for _, tt := range tests {
		if got := c.HasModel(context.Background(), tt.name); got != tt.want {
			t.Errorf("HasModel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestChat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: `{"ok":true}`}})
	}))
	defer srv.Close()

	temp := 0.2
	out, err := New(srv.URL).Chat(context.Background(), "qwen2.5:7b", []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "next"},
	}, ChatOptions{Temperature: &temp, JSON: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("reply = %q", out)
	}
	if got.Model != "qwen2.5:7b" || got.Stream || got.Format != "json" {
		t.Errorf("request = %+v", got)
	}
	if got.Options["temperature"] != 0.2 {
		t.Errorf("temperature option = %v", got.Options["temperature"])
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "missing", nil, ChatOptions{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound || !strings.Contains(se.Body, "model not found") {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "nomic-embed-text" || req["input"] != "headache for two days" {
			t.Errorf("embed request = %v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	vec, err := New(srv.URL).Embed(context.Background(), "nomic-embed-text", "headache for two days")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "m", "x"); err == nil {
		t.Error("expected error for empty embeddings")
	}
}

func TestPullModelProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var n int
	if err := New(srv.URL).PullModel(context.Background(), "qwen2.5:7b", func(PullProgress) { n++ }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if n != 3 {
		t.Errorf("progress updates = %d, want 3", n)
	}
}

func TestEnsureReady(t *testing.T) {
	var pulled, chats int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("qwen2.5:7b"))
		case "/api/pull":
			pulled++
			json.NewEncoder(w).Encode(PullProgress{Status: "success"})
		case "/api/chat":
			chats++
			json.NewEncoder(w).Encode(chatResponse{Message: Message{Content: "pong"}})
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := EnsureReady(context.Background(), New(srv.URL), []string{"qwen2.5:7b", "nomic-embed-text"}, &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if pulled != 1 {
		t.Errorf("pulls = %d, want 1", pulled)
	}
	if chats != 1 {
		t.Errorf("warm-up chats = %d, want 1", chats)
	}
	if !strings.Contains(out.String(), "model qwen2.5:7b: warm") {
		t.Errorf("output = %q", out.String())
	}
}

func TestEnsureReadyDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := EnsureReady(context.Background(), New(srv.URL), []string{"qwen2.5:7b"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "Ollama is not running") {
		t.Fatalf("error = %v", err)
	}
}
