// Package feed materializes the per-consumer notification list: addressed
// and broadcast pools of a topic merged into one bounded, deduplicated,
// unseen-first view. Each call is a pure function of its inputs plus store
// reads, so it is safe to run concurrently for many consumers.
package feed

import (
	"context"
	"sort"

	"github.com/warunk-dev/resto-core/repository/notification"
	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
)

const defaultPageSize = 20

type composer struct {
	repo     notification.Repository
	pageSize int
}

func New(repo notification.Repository, pageSize int) *composer {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &composer{
		repo:     repo,
		pageSize: pageSize,
	}
}

// Compose returns at most limit notifications for the consumer: addressed
// ones first, then broadcast ones whose related entity is not already
// covered. Broadcast candidates are fetched page by page until the remaining
// slots are filled or the pool runs out; no over-fetch factor to tune.
func (c *composer) Compose(ctx context.Context, topic, consumerID string, limit int) ([]entity.Notification, *types.CommonError) {
	if limit <= 0 {
		return []entity.Notification{}, nil
	}
	result := make([]entity.Notification, 0, limit)

	addressed, err := c.repo.ListAddressed(ctx, topic, consumerID, limit)
	if err != nil {
		return nil, err
	}

	covered := make(map[string]struct{}, len(addressed))
	for _, n := range addressed {
		covered[n.DedupKey()] = struct{}{}
	}
	result = append(result, addressed...)

	remaining := limit - len(result)
	offset := 0
	for remaining > 0 {
		batch, err := c.repo.ListBroadcast(ctx, topic, c.pageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, n := range batch {
			key := n.DedupKey()
			if _, ok := covered[key]; ok {
				continue
			}
			covered[key] = struct{}{}
			result = append(result, n)
			remaining--
			if remaining == 0 {
				break
			}
		}

		if len(batch) < c.pageSize {
			break // pool exhausted
		}
		offset += len(batch)
	}

	// the two pools are each ordered but not mutually ordered
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Seen != result[j].Seen {
			return !result[i].Seen
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// MarkSeen flips exactly one record; seen never transitions back.
func (c *composer) MarkSeen(ctx context.Context, id int64) *types.CommonError {
	return c.repo.MarkSeen(ctx, id)
}

// MarkAllSeen flips everything currently visible to the consumer on the
// topic and returns the mutated count (0 on an immediate second call).
func (c *composer) MarkAllSeen(ctx context.Context, topic, consumerID string) (int64, *types.CommonError) {
	return c.repo.MarkAllSeen(ctx, topic, consumerID)
}
