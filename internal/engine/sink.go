package engine

import (
	"github.com/rs/zerolog/log"

	"github.com/edavis/river/internal/archive"
)

// Sink forwards emitted updates to the day archive. With suppression on
// it drops updates tagged as initial checks, so a freshly started
// process does not flood the archive with backlog it has already
// recorded or that the operator asked to skip.
type Sink struct {
	arch        *archive.Archive
	skipInitial bool
}

// NewSink returns a pass-through sink; the engine turns suppression on
// at startup when configured to.
func NewSink(arch *archive.Archive) *Sink {
	return &Sink{arch: arch}
}

// Append implements the feed package's Archiver.
func (s *Sink) Append(update *archive.Update) error {
	if s.skipInitial && update.InitialCheck {
		log.Debug().
			Str("feed", update.Feed.FeedURL).
			Int("items", len(update.FeedItems)).
			Msg("Skipping initial update")
		return nil
	}
	return s.arch.Append(update)
}
