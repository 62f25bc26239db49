package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edavis/river/internal/state"
)

// FeedStatus is the API view of one feed's polling state.
type FeedStatus struct {
	URL          string     `db:"url" json:"url"`
	Title        string     `db:"title" json:"title,omitempty"`
	Factor       float64    `db:"factor" json:"factor"`
	LastChecked  *time.Time `db:"last_checked" json:"last_checked,omitempty"`
	CheckCount   int        `db:"check_count" json:"check_count"`
	ItemCount    int        `db:"item_count" json:"item_count"`
	Failed       bool       `db:"failed" json:"failed"`
	InitialCheck bool       `db:"initial_check" json:"initial_check"`
	LastUpdate   *time.Time `db:"last_update" json:"last_update,omitempty"`
	FeedTitle    string     `db:"feed_title" json:"feed_title,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FeedStateRepository defines read access to the checkpointed feed
// state.
type FeedStateRepository interface {
	FetchFeedStates(ctx context.Context) ([]FeedStatus, error)
}

// sqlxRepository implements FeedStateRepository using sqlx.
type sqlxRepository struct {
	db *state.DB
}

// NewRepository creates a new repository instance.
func NewRepository(db *state.DB) FeedStateRepository {
	return &sqlxRepository{db: db}
}

// FetchFeedStates returns every feed's polling status ordered by URL.
func (r *sqlxRepository) FetchFeedStates(ctx context.Context) ([]FeedStatus, error) {
	var statuses []FeedStatus
	query := `
		SELECT url, title, factor, last_checked, check_count, item_count,
		       failed, initial_check, last_update, feed_title, updated_at
		FROM feed_state
		ORDER BY url ASC
	`
	if err := r.db.SelectContext(ctx, &statuses, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []FeedStatus{}, nil
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	if statuses == nil {
		statuses = []FeedStatus{}
	}
	return statuses, nil
}
