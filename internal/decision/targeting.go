package decision

import "github.com/rallypoint-io/warroom/internal/model"

// Target is the ledger addressing implied by an event for a candidate: the
// campaign an event feeds, the channel matched to its urgency, and the
// audience tier.
type Target struct {
	Campaign string
	Channel  string
	Tier     string
}

// impliedTarget maps an event to the campaign/channel/tier it would spend
// against. Campaigns are organized per event category; faster channels
// serve more urgent events.
func impliedTarget(event model.Event) Target {
	t := Target{Campaign: event.Category}

	switch event.Urgency {
	case model.UrgencyImmediate:
		t.Channel = "sms"
		t.Tier = "rapid-response"
	case model.UrgencyHigh:
		t.Channel = "email"
		t.Tier = "rapid-response"
	case model.UrgencyStandard:
		t.Channel = "email"
		t.Tier = "standard"
	default:
		t.Channel = "direct-mail"
		t.Tier = "standard"
	}

	return t
}

// ledgerPath addresses the five budget levels for a candidate and target.
func ledgerPath(candidateID string, t Target) model.LedgerPath {
	return model.LedgerPath{
		Candidate: candidateID,
		Campaign:  t.Campaign,
		Channel:   t.Channel,
		Tier:      t.Tier,
	}
}
