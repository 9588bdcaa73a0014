package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/reflection"
	"github.com/nidhogg/reflecta/internal/store/memstore"
)

func newRunCmd(client func() *apiClient) *cobra.Command {
	var (
		req   reflection.StartRequest
		local bool
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Start a reflection session and follow it to the final text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Input = strings.Join(args, " ")
			if req.Objective == "" {
				req.Objective = req.Input
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(interrupt)

			r := newRenderer(quiet, req.Cycles)
			defer r.finish()
			if local {
				return runLocal(ctx, req, r, interrupt)
			}
			return runRemote(ctx, client(), req, r, interrupt)
		},
	}
	cmd.Flags().StringVar(&req.SessionID, "session", "", "resume an existing session")
	cmd.Flags().StringVar(&req.Name, "name", "cli", "session name")
	cmd.Flags().StringVar(&req.Objective, "objective", "", "what the reflection works towards (default: the prompt)")
	cmd.Flags().IntVar(&req.Cycles, "cycles", 3, "reflection cycles")
	cmd.Flags().Float64Var(&req.NoiseLevel, "noise", 0, "noise level in [0,1]")
	cmd.Flags().BoolVar(&local, "local", false, "run in-process against memory, without delays")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "show a progress bar instead of every reflection")
	return cmd
}

// runLocal drives one session in-process and renders its events.
func runLocal(ctx context.Context, req reflection.StartRequest, r *renderer, interrupt <-chan os.Signal) error {
	logger := zap.NewNop()
	hub := broadcast.NewHub(logger)
	defer hub.Close()
	orch := reflection.New(memstore.New(), hub, nil, reflection.BatchOptions(), logger)

	subID, events := hub.Subscribe("", 1024)
	defer hub.Unsubscribe(subID)

	run, err := orch.Start(ctx, req)
	if err != nil {
		return err
	}
	for {
		select {
		case <-interrupt:
			run.Stop()
		case ev := <-events:
			r.render(ev)
		case <-run.Done():
			for drained := false; !drained; {
				select {
				case ev := <-events:
					r.render(ev)
				default:
					drained = true
				}
			}
			res, err := run.Wait(ctx)
			if err != nil {
				return err
			}
			r.summary(res)
			return nil
		}
	}
}

// runRemote starts a session on the server and follows the event stream
// until the generation completes.
func runRemote(ctx context.Context, c *apiClient, req reflection.StartRequest, r *renderer, interrupt <-chan os.Signal) error {
	events, err := c.events(ctx)
	if err != nil {
		return err
	}
	sessionID, err := c.start(ctx, req)
	if err != nil {
		return err
	}
	r.note("Session: %s", sessionID)

	for {
		select {
		case <-interrupt:
			if err := c.stop(ctx, sessionID); err != nil {
				return err
			}
			r.note("Stopping after the current cycle...")
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream closed before the session finished")
			}
			if ev.Session() != sessionID {
				continue
			}
			r.render(ev)
			if g, ok := ev.(broadcast.GenerationEvent); ok && g.IsComplete {
				return nil
			}
		}
	}
}

func newStopCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Ask a running session to finish early",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().stop(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Stop requested.")
			return nil
		},
	}
}
