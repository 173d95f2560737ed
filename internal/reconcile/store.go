package reconcile

import (
	"context"

	id "redline/pkg/domain"
)

// Store persists reconciliation sessions and items. Writes participate in
// any transaction carried by ctx.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID id.SessionID) (*Session, error)

	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, itemID id.ItemID) (*Item, error)
	ListItems(ctx context.Context, sessionID id.SessionID) ([]Item, error)

	// Decide transitions a pending item to its decision, stamping decider
	// identity, time, and reason. It is guarded: when the item is no longer
	// pending it returns sentinel.ErrInvalidState, so two concurrent
	// decisions cannot both win.
	Decide(ctx context.Context, item *Item) error

	// ShiftCounters moves one item's worth of session counters from pending
	// to the given decision. Callers invoke it in the same transaction as
	// Decide so the counter invariant holds at every commit point.
	ShiftCounters(ctx context.Context, sessionID id.SessionID, to Decision) error
}
