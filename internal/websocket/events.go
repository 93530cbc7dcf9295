package websocket

import "github.com/dukerupert/daostore/internal/model"

func ProposalCreated(p *model.Proposal) Message {
	return NewMessage("proposal", "created", p.ID, map[string]any{
		"title":          p.Title,
		"voting_ends_at": p.VotingEndsAt,
	})
}

// ProposalVoted carries the running totals after a vote.
func ProposalVoted(p *model.Proposal) Message {
	return NewMessage("proposal", "voted", p.ID, tallyExtra(p))
}

func ProposalFinalized(p *model.Proposal) Message {
	extra := tallyExtra(p)
	extra["status"] = p.Status
	return NewMessage("proposal", "finalized", p.ID, extra)
}

func ProposalExecuted(p *model.Proposal) Message {
	return NewMessage("proposal", "executed", p.ID, map[string]any{"executed_at": p.ExecutedAt})
}

func ProductStock(productID, remaining int64) Message {
	return NewMessage("product", "stock", productID, map[string]any{"stock_quantity": remaining})
}

func ProductChanged(action string, productID int64) Message {
	return NewMessage("product", action, productID, nil)
}

// OrderCreated omits member and address details since any connected
// client can receive it.
func OrderCreated(o *model.Order) Message {
	return NewMessage("order", "created", o.ID, map[string]any{"tokens_earned": o.TokensEarned})
}

func tallyExtra(p *model.Proposal) map[string]any {
	return map[string]any{
		"votes_for":     p.VotesFor,
		"votes_against": p.VotesAgainst,
		"votes_abstain": p.VotesAbstain,
	}
}
