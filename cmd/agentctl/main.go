// Command agentctl is a debug CLI for inspecting and replaying a
// controller's event history recorded on a durable bus.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var busPath string

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Inspect and replay trpc-agent-ctl event trajectories",
	Long: `agentctl is a debug CLI for the agent execution controller: it opens a
SQLite-backed bus recorded by a prior run and lets you inspect the event
trajectory or replay it against a fresh Stepper.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&busPath, "bus", "agent.db", "path to the SQLite-backed bus database")
	rootCmd.AddCommand(trajectoryCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
