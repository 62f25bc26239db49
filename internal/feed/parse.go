package feed

import (
	"bytes"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
)

// Meta is the feed-level metadata carried into archived updates.
type Meta struct {
	Title       string
	Description string
	Link        string
}

// Parser turns a raw payload into feed metadata and entries. It accepts
// both RSS and Atom documents.
type Parser struct {
	fp *gofeed.Parser
}

// NewParser returns a Parser that also surfaces RSS <comments> elements,
// which the stock translation drops.
func NewParser() *Parser {
	fp := gofeed.NewParser()
	fp.RSSTranslator = &commentsTranslator{base: &gofeed.DefaultRSSTranslator{}}
	return &Parser{fp: fp}
}

// Parse decodes the payload. Entries come back in document order.
func (p *Parser) Parse(payload []byte) (Meta, []Entry, error) {
	parsed, err := p.fp.Parse(bytes.NewReader(payload))
	if err != nil {
		return Meta{}, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	meta := Meta{
		Title:       parsed.Title,
		Description: parsed.Description,
		Link:        parsed.Link,
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		e := Entry{
			GUID:        item.GUID,
			Title:       item.Title,
			Description: item.Description,
			Link:        item.Link,
			Published:   item.PublishedParsed,
			Updated:     item.UpdatedParsed,
			Created:     createdTime(item),
		}
		if item.Custom != nil {
			e.Comments = item.Custom["comments"]
		}
		entries = append(entries, e)
	}
	return meta, entries, nil
}

// createdTime reads the dcterms:created extension some feeds carry
// instead of a publication date.
func createdTime(item *gofeed.Item) *time.Time {
	dcterms, ok := item.Extensions["dcterms"]
	if !ok {
		return nil
	}
	created, ok := dcterms["created"]
	if !ok || len(created) == 0 {
		return nil
	}
	ts, err := dateparse.ParseAny(created[0].Value)
	if err != nil {
		return nil
	}
	return &ts
}

// commentsTranslator runs the default RSS translation, then copies each
// item's <comments> URL into the translated item's Custom map.
type commentsTranslator struct {
	base *gofeed.DefaultRSSTranslator
}

func (t *commentsTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	src, ok := feed.(*rss.Feed)
	if !ok {
		return nil, fmt.Errorf("expected *rss.Feed, got %T", feed)
	}
	out, err := t.base.Translate(feed)
	if err != nil {
		return nil, err
	}
	for i, item := range src.Items {
		if item.Comments == "" || i >= len(out.Items) {
			continue
		}
		if out.Items[i].Custom == nil {
			out.Items[i].Custom = map[string]string{}
		}
		out.Items[i].Custom["comments"] = item.Comments
	}
	return out, nil
}
