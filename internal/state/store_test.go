package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edavis/river/internal/feed"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := NewConfig(filepath.Join(t.TempDir(), "state.db"))
	db, err := NewDB(cfg)
	if err != nil {
		t.Fatalf("Failed to open state database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSnapshot(url string) feed.Snapshot {
	checked := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)
	return feed.Snapshot{
		URL:             url,
		Title:           "Example Journal",
		Factor:          2.0,
		LastChecked:     checked,
		CheckCount:      3,
		ItemCount:       11,
		ETag:            `"v1"`,
		LastModified:    "Mon, 03 Jul 2023 11:00:00 GMT",
		Payload:         []byte("<rss/>"),
		Failed:          false,
		Timestamps:      []time.Time{checked.Add(-time.Hour), checked.Add(-2 * time.Hour)},
		Fingerprints:    []string{"fp-1", "fp-2"},
		RandomInterval:  2400,
		InitialCheck:    false,
		HasTimestamps:   true,
		LastUpdate:      checked.Add(-30 * time.Minute),
		FeedTitle:       "Example Journal",
		FeedDescription: "Notes",
		FeedLink:        "https://journal.example.com",
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	url := "https://journal.example.com/feed.xml"

	want := testSnapshot(url)
	if err := db.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	snapshots, err := db.LoadSnapshots(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got, ok := snapshots[url]
	if !ok {
		t.Fatalf("Expected a snapshot for %s", url)
	}

	if got.Title != want.Title || got.Factor != want.Factor {
		t.Errorf("Expected listing (%s, %v), got: (%s, %v)", want.Title, want.Factor, got.Title, got.Factor)
	}
	if !got.LastChecked.Equal(want.LastChecked) {
		t.Errorf("Expected last checked %v, got: %v", want.LastChecked, got.LastChecked)
	}
	if got.CheckCount != want.CheckCount || got.ItemCount != want.ItemCount {
		t.Errorf("Expected counts (%d, %d), got: (%d, %d)", want.CheckCount, want.ItemCount, got.CheckCount, got.ItemCount)
	}
	if got.ETag != want.ETag || got.LastModified != want.LastModified {
		t.Errorf("Expected validators preserved, got: (%q, %q)", got.ETag, got.LastModified)
	}
	if string(got.Payload) != string(want.Payload) {
		t.Errorf("Expected payload preserved, got: %q", got.Payload)
	}
	if len(got.Timestamps) != 2 {
		t.Fatalf("Expected 2 timestamps, got: %d", len(got.Timestamps))
	}
	for i := range want.Timestamps {
		if !got.Timestamps[i].Equal(want.Timestamps[i]) {
			t.Errorf("Expected timestamp %v, got: %v", want.Timestamps[i], got.Timestamps[i])
		}
	}
	if len(got.Fingerprints) != 2 || got.Fingerprints[0] != "fp-1" || got.Fingerprints[1] != "fp-2" {
		t.Errorf("Expected fingerprints in order, got: %v", got.Fingerprints)
	}
	if got.RandomInterval != want.RandomInterval {
		t.Errorf("Expected random interval %d, got: %d", want.RandomInterval, got.RandomInterval)
	}
	if got.InitialCheck != want.InitialCheck || got.HasTimestamps != want.HasTimestamps {
		t.Errorf("Expected flags (%v, %v), got: (%v, %v)", want.InitialCheck, want.HasTimestamps, got.InitialCheck, got.HasTimestamps)
	}
	if !got.LastUpdate.Equal(want.LastUpdate) {
		t.Errorf("Expected last update %v, got: %v", want.LastUpdate, got.LastUpdate)
	}
	if got.FeedTitle != want.FeedTitle || got.FeedLink != want.FeedLink {
		t.Errorf("Expected feed metadata preserved, got: (%q, %q)", got.FeedTitle, got.FeedLink)
	}
}

func TestSaveSnapshotUpserts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	url := "https://journal.example.com/feed.xml"

	snap := testSnapshot(url)
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	snap.CheckCount = 4
	snap.ItemCount = 13
	snap.ETag = `"v2"`
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("Expected no error on upsert, got: %v", err)
	}

	snapshots, err := db.LoadSnapshots(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("Expected a single row after upsert, got: %d", len(snapshots))
	}
	got := snapshots[url]
	if got.CheckCount != 4 || got.ItemCount != 13 || got.ETag != `"v2"` {
		t.Errorf("Expected the updated values, got: (%d, %d, %q)", got.CheckCount, got.ItemCount, got.ETag)
	}
}

func TestSaveSnapshotNeverChecked(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	url := "https://fresh.example.com/feed.xml"

	snap := feed.Snapshot{
		URL:          url,
		Factor:       1.0,
		Timestamps:   []time.Time{},
		Fingerprints: []string{},
		InitialCheck: true,
	}
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	snapshots, err := db.LoadSnapshots(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got := snapshots[url]
	if !got.LastChecked.IsZero() {
		t.Errorf("Expected a zero last-checked time, got: %v", got.LastChecked)
	}
	if !got.LastUpdate.IsZero() {
		t.Errorf("Expected a zero last-update time, got: %v", got.LastUpdate)
	}
	if !got.InitialCheck {
		t.Error("Expected the initial flag preserved")
	}
}

func TestDeleteSnapshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	url := "https://journal.example.com/feed.xml"

	if err := db.SaveSnapshot(ctx, testSnapshot(url)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := db.DeleteSnapshot(ctx, url); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	snapshots, err := db.LoadSnapshots(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("Expected no snapshots after delete, got: %d", len(snapshots))
	}

	// Deleting an absent row is not an error.
	if err := db.DeleteSnapshot(ctx, "https://absent.example.com/feed.xml"); err != nil {
		t.Errorf("Expected no error for an absent row, got: %v", err)
	}
}

func TestLoadSkipsUndecodableRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	good := testSnapshot("https://good.example.com/feed.xml")
	if err := db.SaveSnapshot(ctx, good); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := db.Exec(
		`UPDATE feed_state SET timestamps = 'not json' WHERE url = ?`,
		good.URL,
	); err != nil {
		t.Fatalf("Failed to corrupt row: %v", err)
	}
	if err := db.SaveSnapshot(ctx, testSnapshot("https://other.example.com/feed.xml")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	snapshots, err := db.LoadSnapshots(ctx)
	if err != nil {
		t.Fatalf("Expected the load to survive a bad row, got: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("Expected only the decodable row, got: %d", len(snapshots))
	}
	if _, ok := snapshots["https://other.example.com/feed.xml"]; !ok {
		t.Error("Expected the intact row to load")
	}
}
