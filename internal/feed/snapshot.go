package feed

import "time"

// Snapshot is the persistable projection of a feed's polling state,
// written to the state store after each check and loaded again at boot.
type Snapshot struct {
	URL             string
	Title           string
	Factor          float64
	LastChecked     time.Time
	CheckCount      int
	ItemCount       int
	ETag            string
	LastModified    string
	Payload         []byte
	Failed          bool
	Timestamps      []time.Time
	Fingerprints    []string
	RandomInterval  int
	InitialCheck    bool
	HasTimestamps   bool
	LastUpdate      time.Time
	FeedTitle       string
	FeedDescription string
	FeedLink        string
}

// Snapshot captures the state needed to resume polling after a restart.
// Fingerprints come back oldest first, matching insertion order.
func (f *Feed) Snapshot() Snapshot {
	ts := make([]time.Time, len(f.timestamps))
	copy(ts, f.timestamps)
	fps := make([]string, len(f.seen.order))
	copy(fps, f.seen.order)

	return Snapshot{
		URL:             f.URL,
		Title:           f.Title,
		Factor:          f.Factor,
		LastChecked:     f.lastChecked,
		CheckCount:      f.checkCount,
		ItemCount:       f.itemCount,
		ETag:            f.cond.ETag,
		LastModified:    f.cond.LastModified,
		Payload:         f.payload,
		Failed:          f.failed,
		Timestamps:      ts,
		Fingerprints:    fps,
		RandomInterval:  f.randomInterval,
		InitialCheck:    f.initialCheck,
		HasTimestamps:   f.hasTimestamps,
		LastUpdate:      f.lastUpdate,
		FeedTitle:       f.meta.Title,
		FeedDescription: f.meta.Description,
		FeedLink:        f.meta.Link,
	}
}

// Restore loads checkpointed polling state into the feed. The listing
// title and factor are left alone; those always come from the feed list
// on reconcile.
func (f *Feed) Restore(s Snapshot) {
	f.lastChecked = s.LastChecked
	f.checkCount = s.CheckCount
	f.itemCount = s.ItemCount
	f.cond = Conditional{ETag: s.ETag, LastModified: s.LastModified}
	f.payload = s.Payload
	f.failed = s.Failed
	f.timestamps = append([]time.Time(nil), s.Timestamps...)
	f.sortTrimTimestamps()
	f.seen = newSeenSet(f.seenLimit)
	for _, fp := range s.Fingerprints {
		f.seen.Add(fp)
	}
	if s.RandomInterval > 0 {
		f.randomInterval = s.RandomInterval
	}
	f.initialCheck = s.InitialCheck
	f.hasTimestamps = s.HasTimestamps
	f.lastUpdate = s.LastUpdate
	f.meta = Meta{Title: s.FeedTitle, Description: s.FeedDescription, Link: s.FeedLink}
}
