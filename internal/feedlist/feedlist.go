// Package feedlist loads the declared feed set from a YAML or OPML
// document, read from a local path or fetched over HTTP.
package feedlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one declared feed: its URL plus optional display title and
// priority factor.
type Entry struct {
	URL    string  `yaml:"url"`
	Title  string  `yaml:"title,omitempty"`
	Factor float64 `yaml:"factor"`
}

// UnmarshalYAML accepts either a bare URL string or a mapping with url,
// optional title and optional factor. A missing or zero factor defaults
// to 1.0.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var url string
		if err := node.Decode(&url); err != nil {
			return err
		}
		e.URL = url
		e.Factor = 1.0
		return nil
	}
	type plain Entry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = Entry(p)
	if e.Factor == 0 {
		e.Factor = 1.0
	}
	return nil
}

// Source reads the feed list from a fixed location on each
// reconciliation cadence.
type Source struct {
	Location string
	client   *http.Client
}

// NewSource returns a Source for a local path or an http(s) URL.
func NewSource(location string) *Source {
	return &Source{
		Location: location,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Load fetches and parses the current feed list. Entries keep document
// order; entries without a URL are dropped and duplicate URLs keep their
// first occurrence.
func (s *Source) Load(ctx context.Context) ([]Entry, error) {
	data, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a feed list document. Documents opening with an XML tag
// are treated as OPML, everything else as YAML.
func Parse(data []byte) ([]Entry, error) {
	entries, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	return dedupe(entries), nil
}

func (s *Source) read(ctx context.Context) ([]byte, error) {
	if strings.HasPrefix(s.Location, "http://") || strings.HasPrefix(s.Location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build feed list request: %w", err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch feed list: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("feed list fetch: unexpected status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read feed list response: %w", err)
		}
		return body, nil
	}

	data, err := os.ReadFile(s.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed list: %w", err)
	}
	return data, nil
}

func parseDocument(data []byte) ([]Entry, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "<") {
		return parseOPML([]byte(trimmed))
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse feed list: %w", err)
	}
	return entries, nil
}

func dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		if _, ok := seen[e.URL]; ok {
			continue
		}
		seen[e.URL] = struct{}{}
		out = append(out, e)
	}
	return out
}
