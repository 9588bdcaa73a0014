// Package recall indexes insight embeddings in Qdrant and answers
// similarity recall for the reflection loop.
package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// EmbedderConfig selects and configures an embedder.
type EmbedderConfig struct {
	Provider  string `json:"provider"` // "api", "local" or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// NewEmbedder builds the configured embedder. "hash" needs no service.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 256
	}
	client := &http.Client{Timeout: 30 * time.Second}
	switch cfg.Provider {
	case "api":
		return &apiEmbedder{cfg: cfg, client: client}, nil
	case "local":
		return &localEmbedder{cfg: cfg, client: client}, nil
	case "hash", "":
		return HashEmbedder{Dim: cfg.Dimension}, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// apiEmbedder calls an OpenAI-compatible /embeddings endpoint.
type apiEmbedder struct {
	cfg    EmbedderConfig
	client *http.Client
}

func (p *apiEmbedder) Dimension() int { return p.cfg.Dimension }

func (p *apiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	err := postJSON(ctx, p.client, p.cfg.Endpoint+"/embeddings", p.cfg.APIKey,
		map[string]any{"model": p.cfg.Model, "input": texts}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(result.Data), len(texts))
	}
	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// localEmbedder calls an Ollama-compatible /api/embeddings endpoint, one
// text per request.
type localEmbedder struct {
	cfg    EmbedderConfig
	client *http.Client
}

func (p *localEmbedder) Dimension() int { return p.cfg.Dimension }

func (p *localEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		err := postJSON(ctx, p.client, p.cfg.Endpoint+"/api/embeddings", "",
			map[string]any{"model": p.cfg.Model, "prompt": text}, &result)
		if err != nil {
			return nil, err
		}
		out = append(out, result.Embedding)
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body, into any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}

// HashEmbedder hashes lower-cased words into a fixed number of buckets and
// L2-normalises the counts. Texts sharing words land close together.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Dimension() int { return h.Dim }

func (h HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.Dim)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,;:!?\"'()[]")
			if w == "" {
				continue
			}
			f := fnv.New32a()
			f.Write([]byte(w))
			vec[int(f.Sum32()%uint32(h.Dim))]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}
