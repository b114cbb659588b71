package domain

import (
	"context"
	"time"
)

// OpportunityStore persists detected divergences.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	// MarkExecuted links an opportunity to the settlement that consumed it.
	MarkExecuted(ctx context.Context, id, settlementID string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	// ListBefore returns opportunities detected strictly before the cutoff,
	// in detection order. Used by the archiver.
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// SettlementStore persists settlement attempts.
type SettlementStore interface {
	Insert(ctx context.Context, s Settlement) error
	ListRecent(ctx context.Context, limit int) ([]Settlement, error)
	ListBefore(ctx context.Context, before time.Time) ([]Settlement, error)
}
