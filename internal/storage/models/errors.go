package models

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrActiveItemExists means the domain already has a pending or
	// processing queue item.
	ErrActiveItemExists = errors.New("domain already has an active queue item")
	// ErrRecentlyCrawled means the site was crawled inside the recrawl window.
	ErrRecentlyCrawled = errors.New("domain was crawled recently")
	// ErrQueueEmpty is returned by a claim when nothing is eligible.
	ErrQueueEmpty = errors.New("no queue item eligible for processing")
	// ErrClaimLost means the item is no longer in the state the caller
	// believed it held, usually because stale-claim recovery reset it.
	ErrClaimLost = errors.New("queue item is no longer claimed by this worker")
)
