package store

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// CounterStore rebuilds denormalized counters from the rows they summarize.
type CounterStore struct {
	db DBTX
}

func NewCounterStore(db DBTX) *CounterStore {
	return &CounterStore{db: db}
}

var recomputeQueries = []struct {
	name  string
	query string
}{
	{"content purchase_count", `UPDATE content SET purchase_count =
		(SELECT COUNT(*) FROM purchases p WHERE p.content_id = content.id)`},
	{"tier subscriber_count", `UPDATE subscription_tiers SET subscriber_count =
		(SELECT COUNT(*) FROM subscriptions s WHERE s.tier_id = subscription_tiers.id AND s.status != 'EXPIRED')`},
	{"affiliate conversion_count", `UPDATE affiliate_links SET conversion_count =
		(SELECT COUNT(*) FROM purchases p WHERE p.affiliate_link_id = affiliate_links.id)`},
	{"affiliate total_earned", `UPDATE affiliate_links SET total_earned_cents =
		(SELECT COALESCE(SUM(p.affiliate_commission_cents), 0) FROM purchases p WHERE p.affiliate_link_id = affiliate_links.id)`},
}

// Recompute runs every rebuild and returns the combined errors of any that
// failed. One failing counter does not stop the others.
func (s *CounterStore) Recompute(ctx context.Context) error {
	var errs error
	for _, q := range recomputeQueries {
		if _, err := s.db.ExecContext(ctx, q.query); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recompute %s: %w", q.name, err))
		}
	}
	return errs
}
