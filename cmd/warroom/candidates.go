package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/model"
)

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Manage candidate profiles",
	}
	cmd.AddCommand(candidatesImportCmd())
	cmd.AddCommand(candidatesListCmd())
	return cmd
}

func candidatesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import candidate profiles from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			var candidates []model.Candidate
			if err := json.Unmarshal(data, &candidates); err != nil {
				return fmt.Errorf("failed to parse candidates: %w", err)
			}

			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			for i := range candidates {
				if err := store.SaveCandidate(cmd.Context(), &candidates[i]); err != nil {
					return fmt.Errorf("candidate %s: %w", candidates[i].ID, err)
				}
			}

			fmt.Printf("Imported %d candidates.\n", len(candidates))
			return nil
		},
	}
}

func candidatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active candidates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			candidates, err := store.GetActiveCandidates(cmd.Context())
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				fmt.Println("No active candidates.")
				return nil
			}

			for _, candidate := range candidates {
				fmt.Printf("%-15s %-25s %-8s %-10s office=%s\n",
					candidate.ID, candidate.Name, candidate.District,
					candidate.Faction, candidate.Office.Name)
			}
			return nil
		},
	}
}
