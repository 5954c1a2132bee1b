package main

import (
	"context"

	"github.com/spf13/cobra"

	"maiguru/internal/app"
	"maiguru/internal/repo"
)

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Read the event journal"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				events, err := c.Engine.ListEvents(ctx, f, actorID())
				if err != nil {
					return err
				}
				return printList(events, "id", "ts", "type", "entity_kind", "entity_id", "actor_id")
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
