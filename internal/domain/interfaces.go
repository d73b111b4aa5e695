package domain

import "context"

// FilingsProbe is the external collaborator contract for relationship
// discovery from annual-filing text (spec §6.3). Its wire format and fetch
// mechanism are opaque here; the core only depends on this method shape.
// Labelling the result with a DiscoverySource is the core's responsibility,
// not the collaborator's.
type FilingsProbe interface {
	ExtractRelationships(ctx context.Context, ticker string) ([]RawRelationship, error)
}

// NewsSource is the external collaborator contract for article ingestion
// (spec §6.2). The core carries and interprets only the fields of Article;
// anything else a source has is not kept.
type NewsSource interface {
	FetchSince(ctx context.Context, since string) ([]Article, error)
}
