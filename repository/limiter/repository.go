package limiter

import (
	"context"
	"time"

	types "github.com/warunk-dev/resto-core/types/http"
)

// Repository counts subscribe attempts per consumer so a reconnect storm
// cannot flood the hub with physical connections.
// Implementation needs to be aware of distributed system nature
type Repository interface {
	Get(ctx context.Context, consumerID, key string) (counter int, remaining time.Duration, err *types.CommonError)
	Increment(ctx context.Context, consumerID, key string, expiry time.Duration) (err *types.CommonError)
}

type unlimited struct{}

// NewUnlimited disables limiting; useful in tests and single-tenant setups.
func NewUnlimited() *unlimited {
	return &unlimited{}
}

func (u *unlimited) Get(ctx context.Context, consumerID, key string) (counter int, remaining time.Duration, err *types.CommonError) {
	return 0, 0, nil
}

func (u *unlimited) Increment(ctx context.Context, consumerID, key string, expiry time.Duration) (err *types.CommonError) {
	return nil
}
