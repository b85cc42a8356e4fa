package inmemory

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/warunk-dev/resto-core/repository/notification"
	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
)

var _ notification.Repository = &handler{}

// handler keeps everything in process memory. Useful for tests and for a
// single-server setup where durability is delegated elsewhere.
type handler struct {
	mtx     *sync.Mutex
	counter int64
	data    map[int64]entity.Notification
}

func New() *handler {
	return &handler{
		mtx:  &sync.Mutex{},
		data: make(map[int64]entity.Notification),
	}
}

func (h *handler) Create(ctx context.Context, n entity.Notification) (entity.Notification, *types.CommonError) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.counter++
	n.ID = h.counter
	n.Seen = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	h.data[n.ID] = n

	return n, nil
}

func (h *handler) ListAddressed(ctx context.Context, topic, targetID string, limit int) ([]entity.Notification, *types.CommonError) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	result := make([]entity.Notification, 0)
	for _, n := range h.data {
		if n.Topic != topic || n.Broadcast() {
			continue
		}
		if *n.TargetID != targetID {
			continue
		}
		result = append(result, n)
	}

	sortFeedOrder(result)
	return clip(result, limit), nil
}

func (h *handler) ListBroadcast(ctx context.Context, topic string, limit, offset int) ([]entity.Notification, *types.CommonError) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	result := make([]entity.Notification, 0)
	for _, n := range h.data {
		if n.Topic != topic || !n.Broadcast() {
			continue
		}
		result = append(result, n)
	}

	sortFeedOrder(result)

	if offset >= len(result) {
		return []entity.Notification{}, nil
	}
	return clip(result[offset:], limit), nil
}

func (h *handler) MarkSeen(ctx context.Context, id int64) *types.CommonError {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	n, ok := h.data[id]
	if !ok {
		return &types.CommonError{
			Errors: []types.Error{
				{
					Code:     "NOT_FOUND",
					HTTPCode: http.StatusNotFound,
					Message:  "You specify item ID, but the specified ID is not found.",
				},
			},
		}
	}

	n.Seen = true
	h.data[id] = n
	return nil
}

func (h *handler) MarkAllSeen(ctx context.Context, topic, targetID string) (int64, *types.CommonError) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	var count int64
	for id, n := range h.data {
		if n.Topic != topic || n.Seen {
			continue
		}
		if !n.Broadcast() && *n.TargetID != targetID {
			continue
		}
		n.Seen = true
		h.data[id] = n
		count++
	}

	return count, nil
}

// sortFeedOrder: unseen first, then newest first, id as tiebreak.
func sortFeedOrder(result []entity.Notification) {
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Seen != result[j].Seen {
			return !result[i].Seen
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
}

func clip(result []entity.Notification, limit int) []entity.Notification {
	if limit < 0 {
		limit = 0
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}
