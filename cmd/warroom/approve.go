package main

import (
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/cli"
	"github.com/rallypoint-io/warroom/internal/model"
)

func approveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Review and resolve pending approvals",
	}
	cmd.AddCommand(approveListCmd())
	cmd.AddCommand(approveDecisionCmd())
	cmd.AddCommand(approveCorrectionCmd())
	return cmd
}

func approveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List decisions and corrections waiting on approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			decisions, err := store.GetPendingDecisions(ctx)
			if err != nil {
				return err
			}
			corrections, err := store.GetPendingCorrections(ctx)
			if err != nil {
				return err
			}

			if len(decisions) == 0 && len(corrections) == 0 {
				fmt.Println(cli.SubtleStyle.Render("Nothing pending."))
				return nil
			}
			if len(decisions) > 0 {
				fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Pending decisions (%d)", len(decisions))))
				for i := range decisions {
					d := decisions[i]
					expires := ""
					if !d.PendingExpiresAt.IsZero() {
						expires = fmt.Sprintf("  expires %s", d.PendingExpiresAt.Format(time.RFC3339))
					}
					fmt.Printf("  %s  event=%s candidate=%s cost=$%.2f%s\n",
						d.ID, d.EventID, d.CandidateID, d.ExpectedCost, expires)
				}
			}
			if len(corrections) > 0 {
				fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Pending corrections (%d)", len(corrections))))
				for i := range corrections {
					fmt.Println(cli.RenderCorrectionEvent(&corrections[i]))
				}
			}
			return nil
		},
	}
}

func approveDecisionCmd() *cobra.Command {
	var deny bool
	var approver, notes string
	cmd := &cobra.Command{
		Use:   "decision <decision-id>",
		Short: "Approve or deny a pending decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			configs := newConfigStore()
			engine, _, err := newDecisionEngine(ctx, store, configs)
			if err != nil {
				return err
			}

			decision, err := engine.ApplyApproval(ctx, args[0], model.Approval{
				Timestamp: time.Now().UTC(),
				Approver:  resolveApprover(approver),
				Notes:     notes,
				Approved:  !deny,
			})
			if err != nil {
				return err
			}
			fmt.Println(cli.RenderDecision(decision))
			return nil
		},
	}
	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of approve")
	cmd.Flags().StringVar(&approver, "approver", "", "who is resolving this (defaults to the current user)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes recorded with the resolution")
	return cmd
}

func approveCorrectionCmd() *cobra.Command {
	var deny bool
	var approver, notes string
	cmd := &cobra.Command{
		Use:   "correction <correction-id>",
		Short: "Approve or deny a pending correction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			engine := newCorrectionEngine(store, newConfigStore())
			event, err := engine.ApplyApproval(ctx, args[0], model.Approval{
				Timestamp: time.Now().UTC(),
				Approver:  resolveApprover(approver),
				Notes:     notes,
				Approved:  !deny,
			})
			if err != nil {
				return err
			}
			fmt.Println(cli.RenderCorrectionEvent(event))
			return nil
		},
	}
	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of approve")
	cmd.Flags().StringVar(&approver, "approver", "", "who is resolving this (defaults to the current user)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes recorded with the resolution")
	return cmd
}

func resolveApprover(flag string) string {
	if flag != "" {
		return flag
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
