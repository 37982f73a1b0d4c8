package rawusage

import (
	"context"
	"time"
)

// Filter selects the raw usage of an account over [StartTime, EndTime]
type Filter struct {
	AccountID       string
	SubscriptionIDs []string
	StartTime       time.Time
	EndTime         time.Time
}

type Repository interface {
	// List returns the deduplicated raw usage matching filter. Callers must
	// not rely on the order of the result.
	List(ctx context.Context, filter *Filter) ([]*RawUsageRecord, error)
}
