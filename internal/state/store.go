package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edavis/river/internal/feed"
)

// Row mirrors one feed_state record. Timestamp and fingerprint history
// are stored as JSON arrays.
type Row struct {
	URL             string       `db:"url"`
	Title           string       `db:"title"`
	Factor          float64      `db:"factor"`
	LastChecked     sql.NullTime `db:"last_checked"`
	CheckCount      int          `db:"check_count"`
	ItemCount       int          `db:"item_count"`
	ETag            string       `db:"etag"`
	LastModified    string       `db:"last_modified"`
	Payload         []byte       `db:"payload"`
	Failed          bool         `db:"failed"`
	Timestamps      string       `db:"timestamps"`
	Fingerprints    string       `db:"fingerprints"`
	RandomInterval  int          `db:"random_interval"`
	InitialCheck    bool         `db:"initial_check"`
	HasTimestamps   bool         `db:"has_timestamps"`
	LastUpdate      sql.NullTime `db:"last_update"`
	FeedTitle       string       `db:"feed_title"`
	FeedDescription string       `db:"feed_description"`
	FeedLink        string       `db:"feed_link"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// SaveSnapshot upserts one feed's checkpoint.
func (db *DB) SaveSnapshot(ctx context.Context, snap feed.Snapshot) error {
	tsJSON, err := json.Marshal(snap.Timestamps)
	if err != nil {
		return fmt.Errorf("failed to encode timestamps for %s: %w", snap.URL, err)
	}
	fpJSON, err := json.Marshal(snap.Fingerprints)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprints for %s: %w", snap.URL, err)
	}

	query := `
		INSERT INTO feed_state (
			url, title, factor, last_checked, check_count, item_count,
			etag, last_modified, payload, failed, timestamps, fingerprints,
			random_interval, initial_check, has_timestamps, last_update,
			feed_title, feed_description, feed_link, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			factor = excluded.factor,
			last_checked = excluded.last_checked,
			check_count = excluded.check_count,
			item_count = excluded.item_count,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			payload = excluded.payload,
			failed = excluded.failed,
			timestamps = excluded.timestamps,
			fingerprints = excluded.fingerprints,
			random_interval = excluded.random_interval,
			initial_check = excluded.initial_check,
			has_timestamps = excluded.has_timestamps,
			last_update = excluded.last_update,
			feed_title = excluded.feed_title,
			feed_description = excluded.feed_description,
			feed_link = excluded.feed_link,
			updated_at = excluded.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		snap.URL, snap.Title, snap.Factor,
		nullTime(snap.LastChecked), snap.CheckCount, snap.ItemCount,
		snap.ETag, snap.LastModified, snap.Payload, snap.Failed,
		string(tsJSON), string(fpJSON),
		snap.RandomInterval, snap.InitialCheck, snap.HasTimestamps,
		nullTime(snap.LastUpdate),
		snap.FeedTitle, snap.FeedDescription, snap.FeedLink,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", snap.URL, err)
	}
	return nil
}

// LoadSnapshots returns every checkpoint keyed by feed URL. A row whose
// history fails to decode is skipped rather than failing the whole load.
func (db *DB) LoadSnapshots(ctx context.Context) (map[string]feed.Snapshot, error) {
	var rows []Row
	if err := db.SelectContext(ctx, &rows, `SELECT * FROM feed_state`); err != nil {
		return nil, fmt.Errorf("failed to load feed state: %w", err)
	}

	snapshots := make(map[string]feed.Snapshot, len(rows))
	for _, row := range rows {
		snap, err := row.snapshot()
		if err != nil {
			log.Warn().Err(err).Str("url", row.URL).Msg("Skipping undecodable feed state row")
			continue
		}
		snapshots[row.URL] = snap
	}
	return snapshots, nil
}

// DeleteSnapshot drops the checkpoint of a feed that is no longer
// declared.
func (db *DB) DeleteSnapshot(ctx context.Context, url string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM feed_state WHERE url = ?`, url); err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", url, err)
	}
	return nil
}

func (r Row) snapshot() (feed.Snapshot, error) {
	var timestamps []time.Time
	if err := json.Unmarshal([]byte(r.Timestamps), &timestamps); err != nil {
		return feed.Snapshot{}, fmt.Errorf("bad timestamps: %w", err)
	}
	var fingerprints []string
	if err := json.Unmarshal([]byte(r.Fingerprints), &fingerprints); err != nil {
		return feed.Snapshot{}, fmt.Errorf("bad fingerprints: %w", err)
	}

	snap := feed.Snapshot{
		URL:             r.URL,
		Title:           r.Title,
		Factor:          r.Factor,
		CheckCount:      r.CheckCount,
		ItemCount:       r.ItemCount,
		ETag:            r.ETag,
		LastModified:    r.LastModified,
		Payload:         r.Payload,
		Failed:          r.Failed,
		Timestamps:      timestamps,
		Fingerprints:    fingerprints,
		RandomInterval:  r.RandomInterval,
		InitialCheck:    r.InitialCheck,
		HasTimestamps:   r.HasTimestamps,
		FeedTitle:       r.FeedTitle,
		FeedDescription: r.FeedDescription,
		FeedLink:        r.FeedLink,
	}
	if r.LastChecked.Valid {
		snap.LastChecked = r.LastChecked.Time
	}
	if r.LastUpdate.Valid {
		snap.LastUpdate = r.LastUpdate.Time
	}
	return snap, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
