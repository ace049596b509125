package discovery

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadwatch/internal/model"
)

// DefaultPageSize is the number of subscriptions loaded per page.
const DefaultPageSize = 50

// SubscriptionPager lists eligible subscriptions ordered by id after cursor.
type SubscriptionPager interface {
	ListActiveSubscriptionsPage(ctx context.Context, cursor string, limit int) ([]model.Subscription, error)
}

// Iterator walks eligible subscriptions page by page using the last seen id
// as an exclusive cursor. It stops at the first empty page.
type Iterator struct {
	pager    SubscriptionPager
	pageSize int
	cursor   string
	done     bool
}

// NewIterator starts iterating after cursor; an empty cursor starts at the
// beginning.
func NewIterator(pager SubscriptionPager, pageSize int, cursor string) *Iterator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Iterator{pager: pager, pageSize: pageSize, cursor: cursor}
}

// Next returns the next page, or nil once the subscriptions are exhausted.
// A failed page load leaves the cursor in place so Next can be retried.
func (it *Iterator) Next(ctx context.Context) ([]model.Subscription, error) {
	if it.done {
		return nil, nil
	}
	page, err := it.pager.ListActiveSubscriptionsPage(ctx, it.cursor, it.pageSize)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: list subscriptions after %q", it.cursor)
	}
	if len(page) == 0 {
		it.done = true
		return nil, nil
	}
	it.cursor = page[len(page)-1].ID
	return page, nil
}

// Cursor is the id of the last subscription returned.
func (it *Iterator) Cursor() string { return it.cursor }
