package rtls

import "context"

// EventSink is the persistence collaborator. Implementations must be
// transactional per AppendEvents call and idempotent per tag+timestamp:
// the orchestrator re-queues a whole batch on failure, so duplicates can
// occur (at-least-once delivery).
type EventSink interface {
	AppendEvents(ctx context.Context, events []TagEvent) error
	UpdateDocketLocation(ctx context.Context, docketID int64, locationLabel, zoneID string) error
	RecordMovement(ctx context.Context, docketID int64, toLocation, zoneID, reason string) error
}

// MetadataLookup is the docket metadata collaborator.
type MetadataLookup interface {
	// GetDocketByTag resolves a tag id to its docket record.
	// Returns ErrTagNotFound (possibly wrapped) when the tag is unknown.
	GetDocketByTag(ctx context.Context, tagID string) (Docket, error)

	// GetTagForDocket resolves a docket code to its associated tag id.
	// Returns ErrTagNotFound (possibly wrapped) when the docket has no tag.
	GetTagForDocket(ctx context.Context, docketCode string) (string, Docket, error)
}
