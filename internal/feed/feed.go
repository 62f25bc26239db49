// Package feed implements the adaptive polling state machine for a
// single syndication feed: conditional fetching, fingerprint dedup over
// a bounded memory window, and polling-interval estimation from the
// timestamps of observed items.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edavis/river/internal/archive"
)

const (
	// DefaultWindow is how many recent timestamps feed the interval
	// estimate.
	DefaultWindow = 10
	// DefaultSeenLimit caps the fingerprint memory per feed.
	DefaultSeenLimit = 1000
	// DefaultInitialLimit caps the items emitted by a feed's first check.
	DefaultInitialLimit = 5
	// DefaultInterval is used when no estimate exists and as the retry
	// interval for failed feeds.
	DefaultInterval = time.Hour
	// DefaultMinInterval and DefaultMaxInterval bound the effective
	// polling interval.
	DefaultMinInterval = 15 * time.Minute
	DefaultMaxInterval = time.Hour
)

// ErrEmptyPayload reports a check pass that ended with no body to
// process, either because a fresh download produced nothing or because a
// failed download had no cached payload to fall back on.
var ErrEmptyPayload = errors.New("empty feed payload")

// Archiver receives the update produced by a check pass.
type Archiver interface {
	Append(update *archive.Update) error
}

// Options tunes a feed's polling behavior. Zero values fall back to the
// package defaults. Clock and Rand exist so tests can pin the fetch
// instant and the jitter draws.
type Options struct {
	MinInterval  time.Duration
	MaxInterval  time.Duration
	Window       int
	SeenLimit    int
	InitialLimit int
	Clock        func() time.Time
	Rand         *rand.Rand
}

// Feed owns the complete polling state machine for one feed URL. It is
// not safe for concurrent use; the engine serializes all access to it.
type Feed struct {
	URL    string
	Title  string
	Factor float64

	fetcher  Fetcher
	parser   *Parser
	archiver Archiver
	clock    func() time.Time
	rng      *rand.Rand

	minInterval  time.Duration
	maxInterval  time.Duration
	window       int
	seenLimit    int
	initialLimit int

	lastChecked time.Time
	checkCount  int
	itemCount   int
	cond        Conditional
	payload     []byte
	failed      bool
	timestamps  []time.Time
	seen        *seenSet

	// randomInterval is the jitter, in whole seconds, used in place of
	// the estimate once the feed's cadence exceeds maxInterval.
	randomInterval int

	initialCheck  bool
	hasTimestamps bool
	lastUpdate    time.Time
	meta          Meta
}

// New constructs a feed in the never-checked state. Its first check is
// immediately due.
func New(url string, fetcher Fetcher, parser *Parser, archiver Archiver, opts Options) *Feed {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.SeenLimit <= 0 {
		opts.SeenLimit = DefaultSeenLimit
	}
	if opts.InitialLimit <= 0 {
		opts.InitialLimit = DefaultInitialLimit
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	f := &Feed{
		URL:          url,
		Factor:       1.0,
		fetcher:      fetcher,
		parser:       parser,
		archiver:     archiver,
		clock:        opts.Clock,
		rng:          opts.Rand,
		minInterval:  opts.MinInterval,
		maxInterval:  opts.MaxInterval,
		window:       opts.Window,
		seenLimit:    opts.SeenLimit,
		initialLimit: opts.InitialLimit,
		seen:         newSeenSet(opts.SeenLimit),
		initialCheck: true,
	}
	f.randomInterval = f.freshJitter()
	return f
}

// SetListing applies the title and priority factor declared by the feed
// list. All other polling state is untouched.
func (f *Feed) SetListing(title string, factor float64) {
	f.Title = title
	if factor <= 0 {
		factor = 1.0
	}
	f.Factor = factor
}

// NextCheck returns when this feed is next due. A feed that has never
// been checked reports the epoch so it sorts ahead of every checked
// feed.
func (f *Feed) NextCheck() time.Time {
	if f.lastChecked.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return f.lastChecked.Add(f.effectiveInterval())
}

// CheckCount returns how many check passes have run.
func (f *Feed) CheckCount() int { return f.checkCount }

// ItemCount returns the running total of items detected.
func (f *Feed) ItemCount() int { return f.itemCount }

// Failed reports whether the most recent fetch attempt errored.
func (f *Feed) Failed() bool { return f.failed }

// InitialCheck reports whether the feed still awaits its first
// completed check.
func (f *Feed) InitialCheck() bool { return f.initialCheck }

// Check runs one complete polling pass: conditional fetch, parse, dedup,
// interval re-estimation, and update emission. Fetch failures are
// absorbed into the feed's own schedule; the returned error covers only
// conditions the caller may want to log.
func (f *Feed) Check(ctx context.Context) (*archive.Update, error) {
	now := f.clock().UTC()
	f.lastChecked = now
	f.checkCount++

	body := f.fetch(ctx)
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	meta, entries, err := f.parser.Parse(body)
	if err != nil {
		log.Warn().Err(err).Str("url", f.URL).Msg("Unparsable feed payload")
		entries = nil
	} else {
		f.meta = meta
	}

	newItems := f.processEntries(entries, now)
	f.updateTimestamps(newItems, now)

	var update *archive.Update
	if len(newItems) > 0 {
		update = f.buildUpdate(newItems, now)
	}
	f.initialCheck = false

	if update != nil {
		if err := f.archiver.Append(update); err != nil {
			return nil, fmt.Errorf("failed to archive update for %s: %w", f.URL, err)
		}
	}
	return update, nil
}

// fetch returns the body to process this pass: the fresh download on a
// 200, the cached payload on a 304 or a failed attempt. Validators are
// replaced wholesale whenever a new body arrives.
func (f *Feed) fetch(ctx context.Context) []byte {
	result, err := f.fetcher.Fetch(ctx, f.URL, f.cond)
	if err != nil {
		log.Warn().Err(err).Str("url", f.URL).Msg("Feed download failed")
		f.failed = true
		return f.payload
	}
	f.failed = false
	if result.NotModified {
		return f.payload
	}
	f.cond = Conditional{ETag: result.ETag, LastModified: result.LastModified}
	f.payload = result.Body
	return f.payload
}

// processEntries filters the batch down to unseen items and fixes their
// emission order. Feeds that have never supplied a timestamp are assumed
// to list newest entries first, so their new items come back in reverse
// feed order.
func (f *Feed) processEntries(entries []Entry, now time.Time) []Item {
	var newItems []Item
	for _, e := range entries {
		fp := e.Fingerprint()
		if f.seen.Contains(fp) {
			continue
		}
		f.seen.Add(fp)
		item := NewItem(e, now)
		if item.Provided {
			f.hasTimestamps = true
		}
		newItems = append(newItems, item)
		if !f.initialCheck {
			log.Debug().Str("url", f.URL).Str("fingerprint", fp).Msg("New item")
		}
	}

	if f.hasTimestamps {
		sort.SliceStable(newItems, func(i, j int) bool {
			ti, tj := newItems[i].Timestamp, newItems[j].Timestamp
			switch {
			case ti == nil:
				return false
			case tj == nil:
				return true
			default:
				return ti.After(*tj)
			}
		})
	} else {
		for i, j := 0, len(newItems)-1; i < j; i, j = i+1, j-1 {
			newItems[i], newItems[j] = newItems[j], newItems[i]
		}
	}
	return newItems
}

// updateTimestamps folds the batch into the interval estimate. When the
// batch carried no real timestamps, a virtual one stands in for this
// pass, kept only if it does not make the feed look fresher than before.
func (f *Feed) updateTimestamps(newItems []Item, now time.Time) {
	updated := 0
	for _, item := range newItems {
		if item.Provided {
			f.timestamps = append(f.timestamps, *item.Timestamp)
			updated++
		}
	}

	if updated > 0 {
		f.randomInterval = f.freshJitter()
	} else if !f.failed {
		before := f.effectiveInterval()
		f.timestamps = append(f.timestamps, now)
		if f.effectiveInterval() < before {
			f.timestamps = f.timestamps[:len(f.timestamps)-1]
		}
	}

	if updated == 0 && f.itemInterval() > f.maxInterval {
		f.randomInterval = f.ratchetJitter(f.randomInterval)
	}

	f.sortTrimTimestamps()
}

// buildUpdate assembles the durable record for the batch. The first
// check emits at most initialLimit items so a backlog does not flood the
// day's archive.
func (f *Feed) buildUpdate(items []Item, now time.Time) *archive.Update {
	f.itemCount += len(items)

	if f.initialCheck && len(items) > f.initialLimit {
		items = items[:f.initialLimit]
	}

	views := make([]archive.ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, item.View())
	}

	update := &archive.Update{
		Timestamp: now,
		UUID:      uuid.NewString(),
		Factor:    f.Factor,
		Feed: archive.FeedInfo{
			Title:       f.feedTitle(),
			Description: f.meta.Description,
			WebURL:      f.meta.Link,
			FeedURL:     f.URL,
		},
		ItemCount:    f.itemCount,
		InitialCheck: f.initialCheck,
		FeedItems:    views,
	}
	if !f.lastUpdate.IsZero() {
		prev := f.lastUpdate
		update.PreviousTimestamp = &prev
	}
	f.lastUpdate = now
	return update
}

// feedTitle prefers the title declared by the feed list over the one
// the feed reports for itself.
func (f *Feed) feedTitle() string {
	if f.Title != "" {
		return f.Title
	}
	return f.meta.Title
}

// itemInterval estimates the feed's natural posting cadence: the mean
// gap between the most recent window timestamps. Feeds that are failed,
// have never supplied a real timestamp, or hold fewer than two samples
// report the default instead.
func (f *Feed) itemInterval() time.Duration {
	if f.failed || !f.hasTimestamps || len(f.timestamps) < 2 {
		return DefaultInterval
	}
	recent := make([]time.Time, len(f.timestamps))
	copy(recent, f.timestamps)
	sort.Slice(recent, func(i, j int) bool { return recent[i].After(recent[j]) })
	if len(recent) > f.window {
		recent = recent[:f.window]
	}
	var total time.Duration
	for i := 1; i < len(recent); i++ {
		total += recent[i-1].Sub(recent[i])
	}
	return total / time.Duration(len(recent)-1)
}

// effectiveInterval applies the scheduling policy to the natural
// cadence. Failed feeds retry on a fixed interval that ignores the
// min/max clamps. A cadence beyond the maximum is replaced by the jitter
// value, so slow feeds spread out instead of all landing on the cap.
func (f *Feed) effectiveInterval() time.Duration {
	if f.failed {
		return DefaultInterval
	}
	natural := f.itemInterval()
	switch {
	case natural < f.minInterval:
		return f.minInterval
	case natural > f.maxInterval:
		return time.Duration(f.randomInterval) * time.Second
	default:
		return natural
	}
}

// freshJitter draws a jitter interval from [max/2, max] seconds.
func (f *Feed) freshJitter() int {
	upper := int(f.maxInterval / time.Second)
	lo := upper / 2
	return lo + f.rng.Intn(upper-lo+1)
}

// ratchetJitter draws a new jitter at least one second above prev, still
// capped at max.
func (f *Feed) ratchetJitter(prev int) int {
	upper := int(f.maxInterval / time.Second)
	lo := prev + 1
	if lo >= upper {
		return upper
	}
	return lo + f.rng.Intn(upper-lo+1)
}

func (f *Feed) sortTrimTimestamps() {
	sort.Slice(f.timestamps, func(i, j int) bool { return f.timestamps[i].After(f.timestamps[j]) })
	if len(f.timestamps) > f.window {
		f.timestamps = f.timestamps[:f.window]
	}
}

// seenSet is a bounded FIFO of item fingerprints. Past the limit the
// oldest insertion is evicted, regardless of how recently it matched.
type seenSet struct {
	limit int
	set   map[string]struct{}
	order []string
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, set: make(map[string]struct{})}
}

func (s *seenSet) Contains(fp string) bool {
	_, ok := s.set[fp]
	return ok
}

func (s *seenSet) Add(fp string) {
	if s.Contains(fp) {
		return
	}
	s.set[fp] = struct{}{}
	s.order = append(s.order, fp)
	for len(s.order) > s.limit {
		delete(s.set, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *seenSet) Len() int { return len(s.order) }
