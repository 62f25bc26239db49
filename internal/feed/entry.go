package feed

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/edavis/river/internal/archive"
)

// Entry is one raw feed entry reduced to the named fields the polling
// engine consumes. Date fields are nil when the source did not supply them.
type Entry struct {
	GUID        string
	Title       string
	Description string
	Link        string
	Comments    string
	Published   *time.Time
	Updated     *time.Time
	Created     *time.Time
}

// Fingerprint returns the stable identity of the entry: the feed-provided
// guid when present, otherwise the hex SHA-1 digest of title and link.
func (e *Entry) Fingerprint() string {
	if e.GUID != "" {
		return e.GUID
	}
	sum := sha1.Sum([]byte(e.Title + e.Link))
	return hex.EncodeToString(sum[:])
}

// Item pairs an entry with the timestamp resolved for one check pass.
type Item struct {
	Entry Entry

	// Timestamp is nil when the only provided dates were bogus
	// (pre-2000). Provided is true only for a real feed-supplied date,
	// never for the fetch-instant fallback.
	Timestamp *time.Time
	Provided  bool
}

// NewItem resolves the entry's timestamp against the fetch instant.
func NewItem(e Entry, now time.Time) Item {
	ts, provided := resolveTimestamp(e, now)
	return Item{Entry: e, Timestamp: ts, Provided: provided}
}

var bogusCutoff = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// resolveTimestamp picks the first usable date among published, updated
// and created. A pre-2000 date marks the whole entry as having no
// timestamp at all; a date at or after the fetch instant is skipped in
// favor of the next candidate. When nothing usable remains, the fetch
// instant stands in and provided is false.
func resolveTimestamp(e Entry, now time.Time) (*time.Time, bool) {
	for _, candidate := range []*time.Time{e.Published, e.Updated, e.Created} {
		if candidate == nil {
			continue
		}
		reported := candidate.UTC()
		if reported.Before(bogusCutoff) {
			return nil, false
		}
		if reported.Before(now) {
			return &reported, true
		}
	}
	fallback := now.UTC()
	return &fallback, false
}

const viewTextLimit = 280

var stripMarkup = bluemonday.StrictPolicy()

// cleanText strips markup from feed-supplied text and truncates it at a
// word boundary, appending an ellipsis when anything was cut.
func cleanText(s string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(stripMarkup.Sanitize(s)))
	runes := []rune(cleaned)
	if len(runes) <= viewTextLimit {
		return cleaned
	}
	cut := strings.TrimSpace(string(runes[:viewTextLimit]))
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// View renders the item for archival. An item without a timestamp is
// pinned to the epoch. A title and body that clean down to the same text
// keep only the title, and a body with no title is promoted to the title
// slot.
func (it Item) View() archive.ItemView {
	v := archive.ItemView{
		Timestamp: time.Unix(0, 0).UTC(),
		GUID:      it.Entry.GUID,
		Link:      it.Entry.Link,
		Comments:  it.Entry.Comments,
	}
	if it.Timestamp != nil {
		v.Timestamp = it.Timestamp.UTC()
	}
	title := cleanText(it.Entry.Title)
	body := cleanText(it.Entry.Description)
	switch {
	case title != "" && body != "":
		v.Title = title
		if body != title {
			v.Body = body
		}
	case title == "":
		v.Title = body
	default:
		v.Title = title
	}
	return v
}
