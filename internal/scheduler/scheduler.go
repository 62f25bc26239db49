// Package scheduler owns the live set of feeds, keeps it aligned with
// the declared feed list, and picks which feed is checked next.
package scheduler

import (
	"sort"
	"time"

	"github.com/edavis/river/internal/feed"
	"github.com/edavis/river/internal/feedlist"
)

// Scheduler tracks the live feed set, keyed by URL. A single engine
// loop drives it; it is not safe for concurrent use.
type Scheduler struct {
	feeds  map[string]*feed.Feed
	build  func(url string) *feed.Feed
	loaded time.Time
	clock  func() time.Time
}

// New returns an empty Scheduler. build constructs a fresh feed for
// each newly declared URL.
func New(build func(url string) *feed.Feed, clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		feeds: make(map[string]*feed.Feed),
		build: build,
		clock: clock,
	}
}

// Reconcile aligns the live set with the declared entries. New URLs are
// added with fresh state, vanished URLs are dropped outright with all
// their state, and surviving feeds get their listing metadata
// overwritten in place.
func (s *Scheduler) Reconcile(entries []feedlist.Entry) (added, removed []string) {
	declared := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		declared[e.URL] = struct{}{}
	}

	for url := range s.feeds {
		if _, ok := declared[url]; !ok {
			delete(s.feeds, url)
			removed = append(removed, url)
		}
	}

	for _, e := range entries {
		f, ok := s.feeds[e.URL]
		if !ok {
			f = s.build(e.URL)
			s.feeds[e.URL] = f
			added = append(added, e.URL)
		}
		f.SetListing(e.Title, e.Factor)
	}

	s.loaded = s.clock()
	return added, removed
}

// MarkReconciled resets the reconciliation clock without touching the
// set. Used when a refresh attempt fails and the current set keeps
// running until the next cadence.
func (s *Scheduler) MarkReconciled() {
	s.loaded = s.clock()
}

// Active returns the feed with the earliest NextCheck, or nil when the
// set is empty. Recomputed on every call since NextCheck is dynamic.
func (s *Scheduler) Active() *feed.Feed {
	var best *feed.Feed
	var bestAt time.Time
	for _, f := range s.feeds {
		at := f.NextCheck()
		if best == nil || at.Before(bestAt) {
			best, bestAt = f, at
		}
	}
	return best
}

// DueForReconcile reports whether the feed list is older than interval.
func (s *Scheduler) DueForReconcile(interval time.Duration) bool {
	if s.loaded.IsZero() {
		return true
	}
	return s.clock().Sub(s.loaded) >= interval
}

// ReconcileDeadline returns when the next feed-list refresh is due.
func (s *Scheduler) ReconcileDeadline(interval time.Duration) time.Time {
	if s.loaded.IsZero() {
		return s.clock()
	}
	return s.loaded.Add(interval)
}

// Len returns the live feed count.
func (s *Scheduler) Len() int { return len(s.feeds) }

// Get returns the live feed for url, or nil when it is not tracked.
func (s *Scheduler) Get(url string) *feed.Feed {
	return s.feeds[url]
}

// Feeds returns the live feeds in unspecified order.
func (s *Scheduler) Feeds() []*feed.Feed {
	out := make([]*feed.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f)
	}
	return out
}

// Upcoming returns up to n feeds ordered by NextCheck ascending, for
// schedule narration.
func (s *Scheduler) Upcoming(n int) []*feed.Feed {
	out := s.Feeds()
	sort.Slice(out, func(i, j int) bool { return out[i].NextCheck().Before(out[j].NextCheck()) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
