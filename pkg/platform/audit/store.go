package audit

import (
	"context"

	id "redline/pkg/domain"
)

// Store persists audit events. Append must participate in any transaction
// carried by ctx so an event commits with the mutation it describes, or not
// at all.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByWorkspace(ctx context.Context, workspaceID id.WorkspaceID) ([]Event, error)
}
