package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/model"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage ingested events",
	}
	cmd.AddCommand(eventsImportCmd())
	cmd.AddCommand(eventsListCmd())
	return cmd
}

func eventsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import events from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			var events []model.Event
			if err := json.Unmarshal(data, &events); err != nil {
				return fmt.Errorf("failed to parse events: %w", err)
			}

			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveEvents(cmd.Context(), events); err != nil {
				return err
			}

			fmt.Printf("Imported %d events.\n", len(events))
			return nil
		},
	}
}

func eventsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unprocessed events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			events, err := store.GetUnprocessedEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No unprocessed events.")
				return nil
			}

			for _, event := range events {
				fmt.Printf("%-20s urgency=%d %-12s %-20s %s\n",
					event.ID, event.Urgency, event.Jurisdiction, event.Category,
					event.OccurredAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to list")
	return cmd
}
