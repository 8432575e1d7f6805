package domain

import "context"

// AlignmentSource supplies the externally observed alignment score for a
// timeline, in [0,1]. The engine pulls it once per heartbeat tick; a failed
// pull skips the tick rather than fabricating a value.
type AlignmentSource interface {
	Score(ctx context.Context, timelineID string) (float64, error)
}

// TopicIndex resolves topically related timelines for cascade propagation.
// It is a read-only external index; the engine never holds cross-timeline
// object references.
type TopicIndex interface {
	Related(ctx context.Context, timelineID string) ([]string, error)
}
