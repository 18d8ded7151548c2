package cache

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Refresher drives the periodic full-cache refresh used when no Feedback
// Module is present on the bus (§4.5): each known module is re-read on a
// configurable interval instead of relying on unsolicited $1C answers.
// Scheduled with robfig/cron rather than a bare time.Ticker so the interval
// is expressible as a cron spec an operator can override.
type Refresher struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	refreshAll func()
}

// NewRefresher builds a Refresher that calls refreshAll every intervalSpec
// (a cron @every spec, e.g. "@every 120s"). Typical upstream default is
// 120s; 5-30s is a common tighter range for installations without a
// Feedback Module.
func NewRefresher(intervalSpec string, refreshAll func()) (*Refresher, error) {
	c := cron.New()
	id, err := c.AddFunc(intervalSpec, refreshAll)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid refresh interval %q: %w", intervalSpec, err)
	}
	return &Refresher{cron: c, entryID: id, refreshAll: refreshAll}, nil
}

// Start begins the cron scheduler. Disabled entirely when a Feedback Module
// is present — callers simply don't construct a Refresher in that case.
func (r *Refresher) Start() {
	log.Printf("cache: periodic refresh enabled")
	r.cron.Start()
}

// Stop cancels all pending refresh timers (§5 cancellation on shutdown).
func (r *Refresher) Stop() {
	r.cron.Stop()
}
