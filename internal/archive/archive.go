// Package archive persists one JSON document of update records per UTC
// day. Records are kept newest first; appending prepends to the existing
// document rather than overwriting it.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// FeedInfo is the feed metadata snapshot embedded in each update.
type FeedInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	WebURL      string `json:"web_url"`
	FeedURL     string `json:"feed_url"`
}

// ItemView is the archived representation of a single new item.
type ItemView struct {
	Timestamp time.Time `json:"timestamp"`
	GUID      string    `json:"guid"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Link      string    `json:"link,omitempty"`
	Comments  string    `json:"comments,omitempty"`
}

// Update is one durable record of a batch of newly discovered items.
// It is never mutated after construction.
type Update struct {
	Timestamp         time.Time  `json:"timestamp"`
	UUID              string     `json:"uuid"`
	Factor            float64    `json:"factor"`
	Feed              FeedInfo   `json:"feed"`
	ItemCount         int        `json:"item_count"`
	InitialCheck      bool       `json:"initial_check,omitempty"`
	PreviousTimestamp *time.Time `json:"previous_timestamp,omitempty"`
	FeedItems         []ItemView `json:"feed_items"`
}

// Archive reads and writes the per-day update documents under a single
// output directory.
type Archive struct {
	dir   string
	clock func() time.Time
}

// New returns an Archive rooted at dir, creating the directory if needed.
func New(dir string, clock func() time.Time) (*Archive, error) {
	if clock == nil {
		clock = time.Now
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir, clock: clock}, nil
}

// Path returns the document path for the given day.
func (a *Archive) Path(day time.Time) string {
	return filepath.Join(a.dir, day.UTC().Format("2006-01-02")+".json")
}

// TodayExists reports whether today's document is already on disk.
func (a *Archive) TodayExists() bool {
	_, err := os.Stat(a.Path(a.clock()))
	return err == nil
}

// Read returns the updates recorded for the given day, newest first.
// A missing document reads as an empty collection.
func (a *Archive) Read(day time.Time) ([]*Update, error) {
	data, err := os.ReadFile(a.Path(day))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*Update{}, nil
		}
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	var updates []*Update
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}
	return updates, nil
}

// Append prepends the update to today's document. The existing document
// is read first so earlier records survive; the replacement is written to
// a temporary file and renamed into place, so an interrupted write never
// leaves a truncated document behind.
func (a *Archive) Append(update *Update) error {
	day := a.clock()
	path := a.Path(day)

	updates, err := a.Read(day)
	if err != nil {
		// A corrupt document is not worth dying over; start a fresh
		// collection and keep the new record.
		log.Warn().Err(err).Str("path", path).Msg("Unreadable archive document, starting fresh")
		updates = []*Update{}
	}

	updates = append([]*Update{update}, updates...)

	data, err := json.MarshalIndent(updates, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	tmp, err := os.CreateTemp(a.dir, "."+day.UTC().Format("2006-01-02")+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create archive temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write archive temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close archive temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace archive document: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int("updates", len(updates)).
		Msg("Archive document written")
	return nil
}
