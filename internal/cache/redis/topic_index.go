package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/quantleap/chronosim/internal/domain"
)

// TopicIndex implements domain.TopicIndex using Redis sets. Timelines tagged
// with a shared topic are considered related for cascade propagation.
//
// Key schema:
//
//	topics:timeline:{id} - set of topic tags on a timeline
//	topics:tag:{tag}     - set of timeline IDs carrying the tag
type TopicIndex struct {
	rdb *redis.Client
}

// NewTopicIndex creates a TopicIndex backed by the given Client.
func NewTopicIndex(c *Client) *TopicIndex {
	return &TopicIndex{rdb: c.Underlying()}
}

func timelineTopicsKey(id string) string { return "topics:timeline:" + id }
func topicMembersKey(tag string) string  { return "topics:tag:" + tag }

// SetTopics replaces a timeline's topic tags, updating the reverse index in
// one transaction.
func (ti *TopicIndex) SetTopics(ctx context.Context, timelineID string, topics []string) error {
	old, err := ti.rdb.SMembers(ctx, timelineTopicsKey(timelineID)).Result()
	if err != nil {
		return fmt.Errorf("redis: read topics for %s: %w", timelineID, err)
	}

	pipe := ti.rdb.TxPipeline()
	for _, tag := range old {
		pipe.SRem(ctx, topicMembersKey(tag), timelineID)
	}
	pipe.Del(ctx, timelineTopicsKey(timelineID))
	for _, tag := range topics {
		if tag == "" {
			continue
		}
		pipe.SAdd(ctx, timelineTopicsKey(timelineID), tag)
		pipe.SAdd(ctx, topicMembersKey(tag), timelineID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set topics for %s: %w", timelineID, err)
	}
	return nil
}

// Topics returns a timeline's topic tags.
func (ti *TopicIndex) Topics(ctx context.Context, timelineID string) ([]string, error) {
	tags, err := ti.rdb.SMembers(ctx, timelineTopicsKey(timelineID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: topics for %s: %w", timelineID, err)
	}
	sort.Strings(tags)
	return tags, nil
}

// Related returns the timelines sharing at least one topic tag with the
// given timeline, excluding the timeline itself. Order is deterministic.
func (ti *TopicIndex) Related(ctx context.Context, timelineID string) ([]string, error) {
	tags, err := ti.rdb.SMembers(ctx, timelineTopicsKey(timelineID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: topics for %s: %w", timelineID, err)
	}
	if len(tags) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = topicMembersKey(tag)
	}
	members, err := ti.rdb.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: related timelines for %s: %w", timelineID, err)
	}

	out := members[:0]
	for _, id := range members {
		if id != timelineID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Compile-time interface check.
var _ domain.TopicIndex = (*TopicIndex)(nil)
