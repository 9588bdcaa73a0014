package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/reflection"
)

// apiClient talks to the HTTP API of a running service.
type apiClient struct {
	server string
	http   *http.Client
}

func newAPIClient(server string) *apiClient {
	return &apiClient{server: strings.TrimRight(server, "/"), http: http.DefaultClient}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, into any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *apiClient) start(ctx context.Context, req reflection.StartRequest) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *apiClient) stop(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/stop", nil, nil)
}

// events opens the unfiltered event stream. The channel closes when ctx
// is cancelled or the server ends the stream.
func (c *apiClient) events(ctx context.Context) (<-chan broadcast.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.server+"/api/events", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open event stream: status %d", resp.StatusCode)
	}
	out := make(chan broadcast.Event, 64)
	go func() {
		defer resp.Body.Close()
		readSSE(resp.Body, out)
	}()
	return out, nil
}

// readSSE decodes the data lines of a server-sent event stream.
func readSSE(body io.Reader, out chan<- broadcast.Event) {
	defer close(out)
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		ev, err := broadcast.Unmarshal([]byte(data))
		if err != nil {
			continue
		}
		out <- ev
	}
}
