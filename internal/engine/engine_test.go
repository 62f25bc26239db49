package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edavis/river/internal/archive"
	"github.com/edavis/river/internal/feed"
	"github.com/edavis/river/internal/feedlist"
	"github.com/edavis/river/internal/scheduler"
)

type fakeCheckpointer struct {
	snapshots map[string]feed.Snapshot
	saved     []string
	deleted   []string
	loadErr   error
}

func (c *fakeCheckpointer) SaveSnapshot(_ context.Context, snap feed.Snapshot) error {
	c.saved = append(c.saved, snap.URL)
	return nil
}

func (c *fakeCheckpointer) LoadSnapshots(_ context.Context) (map[string]feed.Snapshot, error) {
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return c.snapshots, nil
}

func (c *fakeCheckpointer) DeleteSnapshot(_ context.Context, url string) error {
	c.deleted = append(c.deleted, url)
	return nil
}

type testHarness struct {
	engine *Engine
	sched  *scheduler.Scheduler
	sink   *Sink
	store  *fakeCheckpointer
	list   string
}

func newTestHarness(t *testing.T, cfg Config, store *fakeCheckpointer, listContent string) *testHarness {
	t.Helper()

	list := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(list, []byte(listContent), 0644); err != nil {
		t.Fatalf("Failed to write feed list: %v", err)
	}

	arch, err := archive.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	sink := NewSink(arch)

	build := func(url string) *feed.Feed {
		return feed.New(url, nil, nil, sink, feed.Options{})
	}
	sched := scheduler.New(build, nil)
	source := feedlist.NewSource(list)

	var checkpointer Checkpointer
	if store != nil {
		checkpointer = store
	}
	eng := New(cfg, sched, source, arch, sink, checkpointer)

	return &testHarness{engine: eng, sched: sched, sink: sink, store: store, list: list}
}

func TestRunFailsWithoutFeedList(t *testing.T) {
	h := newTestHarness(t, Config{}, nil, "- https://a.example.com/feed\n")
	if err := os.Remove(h.list); err != nil {
		t.Fatalf("Failed to remove feed list: %v", err)
	}

	err := h.engine.Run(context.Background())
	if err == nil {
		t.Fatal("Expected a missing feed list to be fatal")
	}
	if !strings.Contains(err.Error(), "failed to load feed list") {
		t.Errorf("Expected the load failure wrapped, got: %v", err)
	}
}

func TestRunStopsWhenCancelled(t *testing.T) {
	h := newTestHarness(t, Config{}, nil, "- https://a.example.com/feed\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.engine.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if h.sched.Len() != 1 {
		t.Errorf("Expected the feed list loaded before stopping, got: %d feeds", h.sched.Len())
	}
}

func TestRunHonorsSkipInitial(t *testing.T) {
	h := newTestHarness(t, Config{SkipInitial: true}, nil, "- https://a.example.com/feed\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.engine.Run(ctx)

	if !h.sink.skipInitial {
		t.Error("Expected initial updates suppressed when configured")
	}
}

func TestRunSuppressesInitialWhenTodayArchived(t *testing.T) {
	now := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)

	list := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(list, []byte("- https://a.example.com/feed\n"), 0644); err != nil {
		t.Fatalf("Failed to write feed list: %v", err)
	}
	arch, err := archive.New(t.TempDir(), func() time.Time { return now })
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	if err := os.WriteFile(arch.Path(now), []byte("[]"), 0644); err != nil {
		t.Fatalf("Failed to plant today's document: %v", err)
	}

	sink := NewSink(arch)
	build := func(url string) *feed.Feed {
		return feed.New(url, nil, nil, sink, feed.Options{})
	}
	sched := scheduler.New(build, nil)
	eng := New(Config{}, sched, feedlist.NewSource(list), arch, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng.Run(ctx)

	if !sink.skipInitial {
		t.Error("Expected initial updates suppressed when today's document exists")
	}
}

func TestRestoreAppliesCheckpointsAndPrunesStale(t *testing.T) {
	now := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)
	store := &fakeCheckpointer{snapshots: map[string]feed.Snapshot{
		"https://a.example.com/feed": {
			URL:         "https://a.example.com/feed",
			LastChecked: now,
			CheckCount:  7,
		},
		"https://stale.example.com/feed": {
			URL:        "https://stale.example.com/feed",
			CheckCount: 2,
		},
	}}
	h := newTestHarness(t, Config{}, store, "- https://a.example.com/feed\n")

	h.sched.Reconcile([]feedlist.Entry{{URL: "https://a.example.com/feed", Factor: 1.0}})
	h.engine.restore(context.Background())

	f := h.sched.Get("https://a.example.com/feed")
	if f.CheckCount() != 7 {
		t.Errorf("Expected the checkpoint applied, got check count: %d", f.CheckCount())
	}
	if len(store.deleted) != 1 || store.deleted[0] != "https://stale.example.com/feed" {
		t.Errorf("Expected the stale row pruned, got: %v", store.deleted)
	}
}

func TestRestoreSurvivesLoadFailure(t *testing.T) {
	store := &fakeCheckpointer{loadErr: errors.New("locked")}
	h := newTestHarness(t, Config{}, store, "- https://a.example.com/feed\n")

	h.sched.Reconcile([]feedlist.Entry{{URL: "https://a.example.com/feed", Factor: 1.0}})
	h.engine.restore(context.Background())

	f := h.sched.Get("https://a.example.com/feed")
	if f.CheckCount() != 0 {
		t.Errorf("Expected fresh state after a failed load, got: %d", f.CheckCount())
	}
}

func TestRefreshListReconcilesAndPrunesState(t *testing.T) {
	store := &fakeCheckpointer{}
	h := newTestHarness(t, Config{}, store, "- https://a.example.com/feed\n")

	h.sched.Reconcile([]feedlist.Entry{
		{URL: "https://a.example.com/feed", Factor: 1.0},
		{URL: "https://b.example.com/feed", Factor: 1.0},
	})

	h.engine.refreshList(context.Background())

	if h.sched.Len() != 1 {
		t.Fatalf("Expected 1 feed after refresh, got: %d", h.sched.Len())
	}
	if h.sched.Get("https://a.example.com/feed") == nil {
		t.Error("Expected the declared feed to survive")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "https://b.example.com/feed" {
		t.Errorf("Expected the removed feed's state deleted, got: %v", store.deleted)
	}
}

func TestRefreshListKeepsSetOnFailure(t *testing.T) {
	h := newTestHarness(t, Config{}, nil, "- https://a.example.com/feed\n")

	h.sched.Reconcile([]feedlist.Entry{
		{URL: "https://a.example.com/feed", Factor: 1.0},
		{URL: "https://b.example.com/feed", Factor: 1.0},
	})
	if err := os.Remove(h.list); err != nil {
		t.Fatalf("Failed to remove feed list: %v", err)
	}

	h.engine.refreshList(context.Background())

	if h.sched.Len() != 2 {
		t.Errorf("Expected the current set kept on failure, got: %d", h.sched.Len())
	}
	if h.sched.DueForReconcile(15 * time.Minute) {
		t.Error("Expected the refresh cadence reset after a failed attempt")
	}
}
