package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/edavis/river/internal/feedlist"
)

// Importer merges subscription documents into a YAML feed list.
type Importer struct {
	listPath string
	client   *http.Client
}

// New creates an importer writing to the feed list at listPath.
func New(listPath string) *Importer {
	return &Importer{
		listPath: listPath,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Run imports feeds from src into the list. src may be a local OPML,
// YAML, or CSV document, or an http(s) URL pointing at one. It returns
// the number of feeds added and the number skipped as already listed.
func (i *Importer) Run(ctx context.Context, src string) (added, skipped int, err error) {
	log.Info().Str("source", src).Str("list", i.listPath).Msg("Starting feed import")

	data, err := i.readSource(ctx, src)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read subscription document: %w", err)
	}

	entries, lineErrors, err := parseEntries(data)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse subscription document: %w", err)
	}

	existing, err := i.loadList()
	if err != nil {
		return 0, 0, err
	}

	merged := make([]feedlist.Entry, 0, len(existing)+len(entries))
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e.URL] = struct{}{}
		merged = append(merged, e)
	}
	for _, e := range entries {
		if _, ok := seen[e.URL]; ok {
			log.Debug().Str("url", e.URL).Msg("Already on the list")
			skipped++
			continue
		}
		seen[e.URL] = struct{}{}
		merged = append(merged, e)
		added++
	}

	if added > 0 {
		if err := i.writeList(merged); err != nil {
			return 0, 0, err
		}
	}

	log.Info().
		Int("added", added).
		Int("skipped", skipped).
		Int("errors", len(lineErrors)).
		Msg("Import summary")

	fmt.Printf("Imported %d feeds into %s\n", added, i.listPath)
	if skipped > 0 {
		fmt.Printf("Skipped %d feeds already on the list\n", skipped)
	}
	if len(lineErrors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(lineErrors))
		for _, lineErr := range lineErrors {
			fmt.Printf("  - %s\n", lineErr)
		}
	}

	return added, skipped, nil
}

func (i *Importer) readSource(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return i.download(ctx, src)
	}
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("subscription document not found: %s", src)
	}
	log.Debug().Str("path", src).Msg("Using local subscription document")
	return os.ReadFile(src)
}

func (i *Importer) download(ctx context.Context, url string) ([]byte, error) {
	log.Debug().Str("url", url).Msg("Downloading subscription document")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download document: HTTP status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	log.Debug().Int("bytes", len(body)).Str("url", url).Msg("Downloaded subscription document")
	return body, nil
}

// parseEntries decodes a subscription document. CSV documents are
// recognized by a comma-separated header row; everything else goes
// through the feed list parser, which handles OPML and YAML.
func parseEntries(data []byte) ([]feedlist.Entry, []string, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "<") && looksLikeCSV(trimmed) {
		return parseCSV(strings.NewReader(trimmed))
	}
	entries, err := feedlist.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return entries, nil, nil
}

func looksLikeCSV(doc string) bool {
	line, _, _ := strings.Cut(doc, "\n")
	fields, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return false
	}
	if len(fields) > 1 {
		return true
	}
	return len(fields) == 1 && strings.EqualFold(strings.TrimSpace(fields[0]), "url")
}

func parseCSV(r io.Reader) ([]feedlist.Entry, []string, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, err
	}

	log.Debug().Strs("header", header).Msg("CSV header read")

	urlIdx := findColumnIndex(header, "url")
	if urlIdx < 0 {
		return nil, nil, fmt.Errorf("required column 'url' not found in CSV header")
	}
	titleIdx := findColumnIndex(header, "title")
	factorIdx := findColumnIndex(header, "factor")

	lineCount := 1 // Header was already read
	var entries []feedlist.Entry
	var lineErrors []string

	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			lineErrors = append(lineErrors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}

		entry := feedlist.Entry{
			URL:    safeGetValue(record, urlIdx),
			Title:  safeGetValue(record, titleIdx),
			Factor: 1.0,
		}
		if entry.URL == "" {
			log.Warn().Int("line", lineCount).Msg("Skipping row with empty URL")
			lineErrors = append(lineErrors, fmt.Sprintf("line %d: empty URL", lineCount))
			continue
		}

		if raw := safeGetValue(record, factorIdx); raw != "" {
			factor, err := strconv.ParseFloat(raw, 64)
			if err != nil || factor <= 0 {
				log.Warn().Int("line", lineCount).Str("factor", raw).Msg("Ignoring invalid factor")
				lineErrors = append(lineErrors, fmt.Sprintf("line %d: invalid factor %q", lineCount, raw))
			} else {
				entry.Factor = factor
			}
		}

		entries = append(entries, entry)
	}

	return entries, lineErrors, nil
}

func (i *Importer) loadList() ([]feedlist.Entry, error) {
	data, err := os.ReadFile(i.listPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read feed list: %w", err)
	}
	entries, err := feedlist.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed list: %w", err)
	}
	return entries, nil
}

func (i *Importer) writeList(entries []feedlist.Entry) error {
	out, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode feed list: %w", err)
	}
	if err := os.WriteFile(i.listPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write feed list: %w", err)
	}
	return nil
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns the trimmed record value at the specified index,
// or the empty string when the index is out of bounds.
func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
