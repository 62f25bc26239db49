// Package engine drives the polling loop: refresh the feed list on its
// cadence, pick the next due feed, check it, and sleep until the next
// deadline. Exactly one fetch is ever in flight.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edavis/river/internal/archive"
	"github.com/edavis/river/internal/feed"
	"github.com/edavis/river/internal/feedlist"
	"github.com/edavis/river/internal/scheduler"
)

// Checkpointer persists per-feed polling state between runs.
type Checkpointer interface {
	SaveSnapshot(ctx context.Context, snap feed.Snapshot) error
	LoadSnapshots(ctx context.Context) (map[string]feed.Snapshot, error)
	DeleteSnapshot(ctx context.Context, url string) error
}

// Config tunes the engine loop.
type Config struct {
	// Refresh is the feed-list reconciliation cadence.
	Refresh time.Duration
	// SkipInitial drops the updates emitted by feeds' first checks.
	SkipInitial bool
	// IdleTick is how long to wait before rechecking an empty feed set.
	IdleTick time.Duration
	Clock    func() time.Time
}

// Engine runs the polling loop over a scheduler's feed set.
type Engine struct {
	cfg    Config
	sched  *scheduler.Scheduler
	source *feedlist.Source
	arch   *archive.Archive
	sink   *Sink
	store  Checkpointer
	clock  func() time.Time
}

// New wires the loop together. store may be nil when state
// checkpointing is disabled.
func New(cfg Config, sched *scheduler.Scheduler, source *feedlist.Source, arch *archive.Archive, sink *Sink, store Checkpointer) *Engine {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 15 * time.Minute
	}
	if cfg.IdleTick <= 0 {
		cfg.IdleTick = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		cfg:    cfg,
		sched:  sched,
		source: source,
		arch:   arch,
		sink:   sink,
		store:  store,
		clock:  cfg.Clock,
	}
}

// Run loads the feed list, restores any checkpointed state, and loops
// until the context is canceled. A feed list that cannot be loaded at
// boot is fatal; later refresh failures only skip that cycle.
func (e *Engine) Run(ctx context.Context) error {
	entries, err := e.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load feed list: %w", err)
	}
	e.sched.Reconcile(entries)
	log.Info().
		Int("feeds", e.sched.Len()).
		Str("source", e.source.Location).
		Msg("Feed list loaded")

	if e.store != nil {
		e.restore(ctx)
	}

	if e.cfg.SkipInitial || e.arch.TodayExists() {
		e.sink.skipInitial = true
		log.Debug().Msg("Suppressing updates from initial feed checks")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.sched.DueForReconcile(e.cfg.Refresh) {
			e.refreshList(ctx)
		}

		active := e.sched.Active()
		if active == nil {
			log.Warn().Msg("No feeds to poll")
			if err := e.sleepUntil(ctx, e.clock().Add(e.cfg.IdleTick)); err != nil {
				return err
			}
			continue
		}

		next := active.NextCheck()
		if next.After(e.clock()) {
			e.narrateUpcoming(active)
			deadline := next
			if r := e.sched.ReconcileDeadline(e.cfg.Refresh); r.Before(deadline) {
				deadline = r
			}
			if err := e.sleepUntil(ctx, deadline); err != nil {
				return err
			}
			continue
		}

		e.checkFeed(ctx, active)
	}
}

// checkFeed runs one pass on the feed and checkpoints the result. Check
// errors never break the loop.
func (e *Engine) checkFeed(ctx context.Context, f *feed.Feed) {
	log.Info().Str("url", f.URL).Msg("Checking feed")

	checkCtx, cancel := context.WithTimeout(ctx, time.Minute)
	update, err := f.Check(checkCtx)
	cancel()

	switch {
	case errors.Is(err, feed.ErrEmptyPayload):
		log.Warn().Str("url", f.URL).Msg("Feed check produced no payload")
	case err != nil:
		log.Error().Err(err).Str("url", f.URL).Msg("Feed check failed")
	case update != nil:
		log.Info().
			Str("url", f.URL).
			Int("new_items", len(update.FeedItems)).
			Int("item_count", update.ItemCount).
			Msg("New items found")
	default:
		log.Debug().Str("url", f.URL).Msg("No new items")
	}

	if e.store != nil {
		// Fresh context so a shutdown mid-check still gets a complete
		// checkpoint.
		saveCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := e.store.SaveSnapshot(saveCtx, f.Snapshot()); err != nil {
			log.Warn().Err(err).Str("url", f.URL).Msg("Failed to checkpoint feed state")
		}
		cancel()
	}
}

// refreshList re-reads the feed list and reconciles the live set. On
// failure the current set keeps running until the next cadence.
func (e *Engine) refreshList(ctx context.Context) {
	entries, err := e.source.Load(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("source", e.source.Location).
			Msg("Feed list refresh failed, keeping current set")
		e.sched.MarkReconciled()
		return
	}

	added, removed := e.sched.Reconcile(entries)
	for _, url := range added {
		log.Info().Str("url", url).Msg("Feed added")
	}
	for _, url := range removed {
		log.Info().Str("url", url).Msg("Feed removed")
		if e.store != nil {
			delCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := e.store.DeleteSnapshot(delCtx, url); err != nil {
				log.Warn().Err(err).Str("url", url).Msg("Failed to delete feed state")
			}
			cancel()
		}
	}
}

// restore loads checkpointed state into the freshly reconciled set.
// Rows for feeds no longer declared are dropped.
func (e *Engine) restore(ctx context.Context) {
	snapshots, err := e.store.LoadSnapshots(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load feed state, starting fresh")
		return
	}

	restored := 0
	for url, snap := range snapshots {
		f := e.sched.Get(url)
		if f == nil {
			if err := e.store.DeleteSnapshot(ctx, url); err != nil {
				log.Warn().Err(err).Str("url", url).Msg("Failed to delete stale feed state")
			}
			continue
		}
		f.Restore(snap)
		restored++
	}
	if restored > 0 {
		log.Info().Int("feeds", restored).Msg("Feed state restored")
	}
}

func (e *Engine) narrateUpcoming(next *feed.Feed) {
	if !next.InitialCheck() {
		log.Info().
			Str("url", next.URL).
			Time("next_check", next.NextCheck()).
			Msg("Next feed to be checked")
	}
	for _, f := range e.sched.Upcoming(10) {
		log.Debug().
			Str("url", f.URL).
			Int("check_count", f.CheckCount()).
			Time("next_check", f.NextCheck()).
			Msg("Upcoming feed")
	}
}

func (e *Engine) sleepUntil(ctx context.Context, deadline time.Time) error {
	d := deadline.Sub(e.clock())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
