package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nidhogg/reflecta/internal/reflection"
)

func newSessionsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessions []reflection.Session
			if err := client().do(cmd.Context(), http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			for _, s := range sessions {
				state := dimColor.Sprint("ended")
				if s.Active {
					state = okColor.Sprint("active")
				}
				fmt.Printf("%s  %-7s %3d reflections  %5.1f%%  %s\n",
					s.ID, state, s.TotalReflections, s.ImprovementRate, s.StartedAt.Format(time.DateTime))
			}
			return nil
		},
	}
}

func newShowCmd(client func() *apiClient) *cobra.Command {
	var withReflections bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session and its generated content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			var view struct {
				Session reflection.Session           `json:"session"`
				Running bool                         `json:"running"`
				Content *reflection.GeneratedContent `json:"content"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/api/sessions/"+args[0], nil, &view); err != nil {
				return err
			}
			s := view.Session
			fmt.Printf("%s %s\n", headColor.Sprint(s.Name), dimColor.Sprint(s.ID))
			fmt.Printf("Objective:   %s\n", s.Objective)
			fmt.Printf("Reflections: %d\n", s.TotalReflections)
			fmt.Printf("Improvement: %.1f%%\n", s.ImprovementRate)
			fmt.Printf("Running:     %v\n", view.Running)

			if withReflections {
				var refs []reflection.Reflection
				if err := c.do(cmd.Context(), http.MethodGet, "/api/sessions/"+args[0]+"/reflections", nil, &refs); err != nil {
					return err
				}
				fmt.Println()
				for _, r := range refs {
					fmt.Printf("%s %s\n", cycleColor.Sprintf("[cycle %d %s]", r.Cycle, r.Kind), r.Content)
				}
			}
			if view.Content != nil {
				fmt.Println()
				fmt.Println(view.Content.Content)
				fmt.Println(dimColor.Sprintf("(quality %.0f, coherence %.0f, alignment %.0f)",
					view.Content.Quality, view.Content.Coherence, view.Content.GoalAlignment))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&withReflections, "reflections", "r", false, "also print every reflection")
	return cmd
}
