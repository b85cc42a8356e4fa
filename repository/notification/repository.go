package notification

import (
	"context"

	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
)

// Repository is the durable notification store. Listing order is always
// unseen first, then newest first; it is what the feed composer builds on.
type Repository interface {
	// Create stores the record, assigning its id (and CreatedAt when zero).
	Create(ctx context.Context, n entity.Notification) (entity.Notification, *types.CommonError)

	// ListAddressed returns up to limit notifications targeted at targetID.
	ListAddressed(ctx context.Context, topic, targetID string, limit int) ([]entity.Notification, *types.CommonError)

	// ListBroadcast returns up to limit broadcast notifications of the topic,
	// paged by offset so callers can keep fetching until satisfied.
	ListBroadcast(ctx context.Context, topic string, limit, offset int) ([]entity.Notification, *types.CommonError)

	// MarkSeen sets seen on exactly that record. NOT_FOUND when absent.
	MarkSeen(ctx context.Context, id int64) *types.CommonError

	// MarkAllSeen sets seen on every unseen notification visible to targetID
	// on the topic (addressed plus broadcast) and returns the mutated count.
	MarkAllSeen(ctx context.Context, topic, targetID string) (int64, *types.CommonError)
}
