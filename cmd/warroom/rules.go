package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/cli"
	"github.com/rallypoint-io/warroom/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage control rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesDisableCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	var candidateID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List control rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var rules []model.ControlRule
			if candidateID != "" {
				rules, err = store.GetControlRules(ctx, candidateID)
			} else {
				rules, err = store.GetAllControlRules(ctx)
			}
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No control rules."))
				return nil
			}
			fmt.Println(cli.RenderControlRules(rules))
			return nil
		},
	}
	cmd.Flags().StringVar(&candidateID, "candidate", "", "limit to one candidate")
	return cmd
}

func rulesAddCmd() *cobra.Command {
	var (
		name        string
		action      string
		priority    int
		limitAmount float64

		categories     []string
		channels       []string
		costAbove      float64
		relevanceBelow float64
		dailyCap       float64
	)
	cmd := &cobra.Command{
		Use:   "add <candidate-id>",
		Short: "Add a control rule for a candidate",
		Example: `  warroom rules add reyes-2026 --name no-big-sends --action require_approval --cost-above 1000
  warroom rules add reyes-2026 --name sms-cap --action limit --limit 200 --channel sms
  warroom rules add reyes-2026 --name daily-ceiling --action block --daily-cap 5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rule := &model.ControlRule{
				CandidateID: args[0],
				Name:        name,
				Action:      model.RuleAction(action),
				Priority:    priority,
				LimitAmount: limitAmount,
				Active:      true,
				Condition: model.RuleCondition{
					Categories: categories,
					Channels:   channels,
				},
			}
			if cmd.Flags().Changed("cost-above") {
				rule.Condition.CostAbove = &costAbove
			}
			if cmd.Flags().Changed("relevance-below") {
				rule.Condition.RelevanceBelow = &relevanceBelow
			}
			if cmd.Flags().Changed("daily-cap") {
				rule.Condition.DailySpendCap = &dailyCap
			}
			if err := rule.Validate(); err != nil {
				return err
			}

			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveControlRule(ctx, rule); err != nil {
				return err
			}
			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("Created rule %d (%s)", rule.ID, rule.Name)))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name (required)")
	cmd.Flags().StringVar(&action, "action", "block", "block, require_approval, limit, or override")
	cmd.Flags().IntVar(&priority, "priority", 100, "evaluation order, lower first")
	cmd.Flags().Float64Var(&limitAmount, "limit", 0, "cost cap for the limit action")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "match event categories")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "match channels")
	cmd.Flags().Float64Var(&costAbove, "cost-above", 0, "match when expected cost exceeds this")
	cmd.Flags().Float64Var(&relevanceBelow, "relevance-below", 0, "match when relevance is under this")
	cmd.Flags().Float64Var(&dailyCap, "daily-cap", 0, "match when daily spend would exceed this")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func rulesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <candidate-id> <rule-id>",
		Short: "Deactivate a control rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := store.GetControlRules(ctx, args[0])
			if err != nil {
				return err
			}
			for i := range rules {
				if fmt.Sprintf("%d", rules[i].ID) != args[1] {
					continue
				}
				rules[i].Active = false
				if err := store.SaveControlRule(ctx, &rules[i]); err != nil {
					return err
				}
				fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("Disabled rule %d (%s)", rules[i].ID, rules[i].Name)))
				return nil
			}
			return fmt.Errorf("no active rule %s for candidate %s", args[1], args[0])
		},
	}
}
