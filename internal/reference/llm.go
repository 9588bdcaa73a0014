package reference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LLMConfig configures an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	Name        string        `json:"name"`
	Endpoint    string        `json:"endpoint"`
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// LLM generates reference text by streaming a chat completion.
type LLM struct {
	config LLMConfig
	client *http.Client
	logger *zap.Logger
}

// NewLLM creates an OpenAI-compatible generator.
func NewLLM(cfg LLMConfig, logger *zap.Logger) *LLM {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 256
	}
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	return &LLM{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (g *LLM) Name() string { return g.config.Name }

// streamChunk is one streamed delta, or the error that ended the stream.
type streamChunk struct {
	Content string
	Err     error
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate asks the model for a reference answer and accumulates the
// streamed deltas. A stream that breaks off mid-answer is unavailable.
func (g *LLM) Generate(ctx context.Context, prompt string) (string, error) {
	chunks, err := g.stream(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnavailable, g.config.Name, err)
	}
	var b strings.Builder
	var streamErr error
	for c := range chunks {
		if c.Err != nil {
			streamErr = c.Err
			continue
		}
		b.WriteString(c.Content)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnavailable, g.config.Name, err)
	}
	if streamErr != nil {
		return "", fmt.Errorf("%w: %s: read stream: %w", ErrUnavailable, g.config.Name, streamErr)
	}
	return strings.TrimSpace(b.String()), nil
}

func (g *LLM) stream(ctx context.Context, prompt string) (<-chan streamChunk, error) {
	req := map[string]interface{}{
		"model": g.config.Model,
		"messages": []chatMessage{
			{Role: "system", Content: "Answer the user's request directly in plain prose."},
			{Role: "user", Content: prompt},
		},
		"stream":     true,
		"max_tokens": g.config.MaxTokens,
	}
	if g.config.Temperature > 0 {
		req["temperature"] = g.config.Temperature
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	ch := make(chan streamChunk, 64)
	go g.readSSE(resp.Body, ch)
	return ch, nil
}

// readSSE splits the body on blank lines and forwards each delta's content.
// A read error other than EOF is forwarded as the final chunk.
func (g *LLM) readSSE(body io.ReadCloser, ch chan<- streamChunk) {
	defer close(ch)
	defer body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 1024)
	for {
		n, err := body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				line := string(buf[:idx])
				buf = buf[idx+2:]

				data, ok := strings.CutPrefix(line, "data: ")
				if !ok {
					continue
				}
				if data == "[DONE]" {
					return
				}
				var chunk struct {
					Choices []struct {
						Delta struct {
							Content string `json:"content"`
						} `json:"delta"`
					} `json:"choices"`
				}
				if json.Unmarshal([]byte(data), &chunk) == nil && len(chunk.Choices) > 0 {
					ch <- streamChunk{Content: chunk.Choices[0].Delta.Content}
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				g.logger.Warn("reference stream broke off",
					zap.String("provider", g.config.Name), zap.Error(err))
				ch <- streamChunk{Err: err}
			}
			return
		}
	}
}
