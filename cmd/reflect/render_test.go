package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/reflection"
)

func TestReadSSE(t *testing.T) {
	raw, _ := broadcast.Marshal(broadcast.InsightEvent{SessionID: "s1", Content: "noted"})
	body := "event: memory_insight\ndata: " + string(raw) + "\n\n" +
		"data: not json\n\n" +
		": keep-alive\n\n"

	out := make(chan broadcast.Event, 4)
	readSSE(strings.NewReader(body), out)

	var got []broadcast.Event
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Session() != "s1" {
		t.Fatalf("events = %+v, want the single insight", got)
	}
}

func TestAPIClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"reflection loop already running"}`))
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL+"/").start(context.Background(), reflection.StartRequest{Input: "x"})
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("err = %v, want the server message", err)
	}
}

func TestRunLocal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r := newRenderer(true, 2)
	err := runLocal(ctx, reflection.StartRequest{Input: "why tides", Objective: "why tides", Cycles: 2}, r, nil)
	if err != nil {
		t.Fatalf("run local: %v", err)
	}
}
