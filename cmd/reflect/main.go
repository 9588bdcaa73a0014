package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("Error: ", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string
	root := &cobra.Command{
		Use:   "reflect",
		Short: "Terminal client for the Reflecta reflection service",
		Long: `reflect starts reflection sessions and follows their events.

Run 'reflect run "your prompt"' against a server, or add --local to run
one session in-process without a server or any pacing delays.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", envOr("REFLECTA_SERVER", "http://localhost:3210"), "Reflecta server URL")

	client := func() *apiClient { return newAPIClient(server) }
	root.AddCommand(
		newRunCmd(client),
		newSessionsCmd(client),
		newShowCmd(client),
		newStopCmd(client),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
