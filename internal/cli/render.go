package cli

import (
	"fmt"
	"strings"

	"github.com/rallypoint-io/warroom/internal/model"
)

// RenderVerdict colors a verdict for terminal display.
func RenderVerdict(verdict model.Verdict) string {
	switch verdict {
	case model.VerdictGo:
		return SuccessStyle.Render(string(verdict))
	case model.VerdictPendingApproval:
		return WarningStyle.Render(string(verdict))
	case model.VerdictNoGo, model.VerdictExpired:
		return ErrorStyle.Render(string(verdict))
	}
	return string(verdict)
}

// RenderBudgetStatus colors a derived budget status.
func RenderBudgetStatus(status model.BudgetStatus) string {
	switch status {
	case model.StatusOK:
		return SuccessStyle.Render(string(status))
	case model.StatusWarning:
		return WarningStyle.Render(string(status))
	case model.StatusCritical:
		return ErrorStyle.Render(string(status))
	case model.StatusNoBudget:
		return SubtleStyle.Render(string(status))
	}
	return string(status)
}

// RenderDecision formats one decision as a multi-line summary.
func RenderDecision(d *model.Decision) string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(fmt.Sprintf("Decision %s", d.ID)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Verdict:    %s\n", RenderVerdict(d.Verdict)))
	b.WriteString(fmt.Sprintf("  Event:      %s\n", d.EventID))
	b.WriteString(fmt.Sprintf("  Candidate:  %s\n", d.CandidateID))
	b.WriteString(fmt.Sprintf("  Target:     %s / %s / %s\n", d.Campaign, d.Channel, d.Tier))
	b.WriteString(fmt.Sprintf("  Relevance:  %.1f\n", d.Relevance))
	b.WriteString(fmt.Sprintf("  ROI:        %.1f:1 (p=%.3f, cost $%.2f)\n",
		d.ExpectedROI, d.ResponseProbability, d.ExpectedCost))
	if len(d.Reasons) > 0 {
		b.WriteString(fmt.Sprintf("  Reasons:    %s\n", ErrorStyle.Render(strings.Join(d.Reasons, ", "))))
	}
	if d.Rationale != "" {
		b.WriteString(fmt.Sprintf("  Rationale:  %s\n", SubtleStyle.Render(d.Rationale)))
	}
	if d.Outcome != nil {
		b.WriteString(fmt.Sprintf("  Outcome:    %d sent, $%.2f revenue, realized ROI %.1f:1\n",
			d.Outcome.SentCount, d.Outcome.Revenue, d.Outcome.RealizedROI))
	}

	return b.String()
}

// RenderLedgerTable formats ledger nodes as an aligned table with derived
// headroom, variance, and status per node.
func RenderLedgerTable(nodes []model.LedgerNode) string {
	var b strings.Builder

	header := fmt.Sprintf("%-45s %-10s %12s %12s %12s %10s",
		"KEY", "LEVEL", "BUDGET", "ACTUAL", "HEADROOM", "STATUS")
	b.WriteString(TableHeaderStyle.Render(header))
	b.WriteString("\n")

	for _, node := range nodes {
		row := fmt.Sprintf("%-45s %-10s %12.2f %12.2f %12.2f ",
			node.Key, node.Level, node.Budget, node.Actual, node.Headroom())
		b.WriteString(TableCellStyle.Render(row))
		b.WriteString(RenderBudgetStatus(node.Status()))
		b.WriteString("\n")
	}

	return b.String()
}

// RenderControlRules formats a candidate's rules in evaluation order.
func RenderControlRules(rules []model.ControlRule) string {
	var b strings.Builder

	header := fmt.Sprintf("%-5s %-8s %-30s %-18s %10s %-7s",
		"ID", "PRIORITY", "NAME", "ACTION", "LIMIT", "ACTIVE")
	b.WriteString(TableHeaderStyle.Render(header))
	b.WriteString("\n")

	for _, rule := range rules {
		limit := "-"
		if rule.Action == model.ActionLimit {
			limit = fmt.Sprintf("%.2f", rule.LimitAmount)
		}
		active := SuccessStyle.Render("yes")
		if !rule.Active {
			active = SubtleStyle.Render("no")
		}
		b.WriteString(fmt.Sprintf("%-5d %-8d %-30s %-18s %10s %-7s\n",
			rule.ID, rule.Priority, rule.Name, rule.Action, limit, active))
	}

	return b.String()
}

// RenderCorrectionEvent formats one correction history record.
func RenderCorrectionEvent(e *model.CorrectionEvent) string {
	var b strings.Builder

	status := string(e.Status)
	switch e.Status {
	case model.CorrectionApplied:
		status = SuccessStyle.Render(status)
	case model.CorrectionPending:
		status = WarningStyle.Render(status)
	case model.CorrectionBlocked, model.CorrectionRolledBack, model.CorrectionExpired:
		status = ErrorStyle.Render(status)
	}

	b.WriteString(fmt.Sprintf("%s  %s  rule=%s function=%s  %s",
		e.TriggeredAt.Format("2006-01-02 15:04"),
		status,
		e.RuleName,
		e.Function,
		e.Action.Describe()))
	if e.Reason != "" {
		b.WriteString("  " + SubtleStyle.Render(e.Reason))
	}

	return b.String()
}
