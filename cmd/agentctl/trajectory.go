package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-ctl/bus/sqlite"
)

var trajectoryCmd = &cobra.Command{
	Use:   "trajectory",
	Short: "Print the full event trajectory recorded on the bus",
	RunE:  runTrajectory,
}

func runTrajectory(cmd *cobra.Command, args []string) error {
	b, err := sqlite.Open(busPath)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer b.Close()

	ctx := context.Background()
	latest, err := b.GetLatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("read latest event id: %w", err)
	}
	events, err := b.GetEvents(ctx, 0, latest, false, nil, false)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
