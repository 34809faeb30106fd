package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/cli"
	"github.com/rallypoint-io/warroom/internal/scoring"
)

func scoreCmd() *cobra.Command {
	var stored bool
	cmd := &cobra.Command{
		Use:   "score <event-id>",
		Short: "Score an event against every active candidate",
		Long: `Computes the eight-factor relevance of an event for each active
candidate. With --stored, shows the scores persisted by past evaluations
instead of recomputing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if stored {
				scores, err := store.GetRelevanceScores(ctx, args[0])
				if err != nil {
					return err
				}
				for _, s := range scores {
					fmt.Printf("%-15s total=%.1f (role=%.0f district=%.0f donor=%.0f committee=%.0f priority=%.0f voting=%.0f faction=%.0f geo=%.0f)\n",
						s.CandidateID, s.Total, s.Role, s.District, s.Donor,
						s.Committee, s.Priority, s.Voting, s.Faction, s.Geography)
				}
				return nil
			}

			event, err := store.GetEventByID(ctx, args[0])
			if err != nil {
				return err
			}
			candidates, err := store.GetActiveCandidates(ctx)
			if err != nil {
				return err
			}

			fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Relevance for event %s", event.ID)))
			scorer := scoring.NewScorer()
			for _, candidate := range candidates {
				s := scorer.Score(*event, candidate)
				fmt.Printf("%-15s %-25s total=%.1f\n", candidate.ID, candidate.Name, s.Total)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stored, "stored", false, "show persisted scores instead of recomputing")
	return cmd
}
