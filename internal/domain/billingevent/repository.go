package billingevent

import (
	"context"
)

type Repository interface {
	// ListByAccount returns the billing events of every subscription of the
	// account ordered by subscription and effective date
	ListByAccount(ctx context.Context, accountID string) ([]*BillingEvent, error)
}
