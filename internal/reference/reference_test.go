package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// sseServer streams chunks in the chat completions delta format.
func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream || req.Model != "test-model" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			data, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLLMAccumulatesStream(t *testing.T) {
	srv := sseServer(t, "The moon ", "pulls the ", "oceans.")
	g := NewLLM(LLMConfig{Name: "test", Endpoint: srv.URL, Model: "test-model"}, zap.NewNop())

	text, err := g.Generate(context.Background(), "why tides")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "The moon pulls the oceans." {
		t.Errorf("text = %q", text)
	}
}

func TestLLMTruncatedStreamIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		data, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": "The moon "}}},
		})
		fmt.Fprint(buf, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: 4096\r\n\r\n")
		fmt.Fprintf(buf, "data: %s\n\n", data)
		buf.Flush()
	}))
	defer srv.Close()

	g := NewLLM(LLMConfig{Name: "test", Endpoint: srv.URL, Model: "test-model"}, zap.NewNop())
	text, err := g.Generate(context.Background(), "why tides")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for a cut stream, got text %q, err %v", text, err)
	}

	chain := WithFallback(zap.NewNop(), g)
	out, err := chain.Generate(context.Background(), "why tides")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if out != Render("why tides") {
		t.Errorf("chain = %q, want the template", out)
	}
}

func TestLLMReportsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewLLM(LLMConfig{Endpoint: srv.URL, Model: "test-model"}, zap.NewNop())
	_, err := g.Generate(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type stubGenerator struct {
	name string
	text string
	err  error
	hits int
}

func (s *stubGenerator) Name() string { return s.name }

func (s *stubGenerator) Generate(context.Context, string) (string, error) {
	s.hits++
	return s.text, s.err
}

func TestChainFallsThrough(t *testing.T) {
	down := &stubGenerator{name: "down", err: ErrUnavailable}
	blank := &stubGenerator{name: "blank", text: "   "}
	up := &stubGenerator{name: "up", text: "answer"}
	after := &stubGenerator{name: "after", text: "unused"}

	text, err := WithFallback(zap.NewNop(), down, blank, up, after).Generate(context.Background(), "q")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "answer" {
		t.Errorf("text = %q, want the first usable answer", text)
	}
	if after.hits != 0 {
		t.Error("chain kept going after a usable answer")
	}
}

func TestChainEndsAtTemplate(t *testing.T) {
	down := &stubGenerator{name: "down", err: ErrUnavailable}
	text, err := WithFallback(zap.NewNop(), down).Generate(context.Background(), "  why   tides ")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != Render("why tides") {
		t.Errorf("text = %q, want the template", text)
	}
	if !strings.Contains(text, "why tides") {
		t.Errorf("template lost the topic: %q", text)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WithFallback(zap.NewNop(), down).Generate(ctx, "q"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("cancelled chain returned %v, want ErrUnavailable", err)
	}
}

func TestRenderBlankPrompt(t *testing.T) {
	if got := Render(" \n "); !strings.Contains(got, "the request") {
		t.Errorf("render = %q", got)
	}
}
