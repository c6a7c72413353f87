// Package catalog loads the topic catalog file: one semicolon-delimited
// record per topic carrying its static metadata.
package catalog

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Topic is the static metadata attached to one catalog entry. Immutable
// once loaded.
type Topic struct {
	Name     string
	Location string
	Height   string
	X        string
	Y        string
	Unit     string
	Notes    string
}

// Catalog maps topic names to their metadata, preserving file order.
type Catalog struct {
	topics map[string]Topic
	order  []string
}

// Load reads a "topic; location; height; x; y; unit; notes" file. A header
// row is skipped, lines starting with '#' are comments, and duplicate topic
// names after the first are rejected with a warning.
func Load(path string) (*Catalog, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening topic catalog: %w", err)
	}
	defer fd.Close()

	reader := csv.NewReader(fd)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading topic catalog %s: %w", path, err)
	}

	cat := &Catalog{topics: make(map[string]Topic)}
	for i, row := range rows {
		line := i + 1
		if len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(row[0])
		switch {
		case name == "":
			continue
		case name == "topic":
			slog.Debug("skipping catalog header", "line", line)
			continue
		case strings.HasPrefix(name, "#"):
			slog.Warn("catalog line commented out", "line", line)
			continue
		}
		if _, dup := cat.topics[name]; dup {
			slog.Warn("duplicate catalog topic skipped", "topic", name, "line", line)
			continue
		}

		topic := Topic{Name: name}
		fields := []*string{
			&topic.Location, &topic.Height, &topic.X,
			&topic.Y, &topic.Unit, &topic.Notes,
		}
		for j, dst := range fields {
			if j+1 < len(row) {
				*dst = strings.TrimSpace(row[j+1])
			}
		}

		cat.topics[name] = topic
		cat.order = append(cat.order, name)
		slog.Debug("catalog topic added", "topic", name, "location", topic.Location)
	}

	return cat, nil
}

// Names returns the topic names in file order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Get looks up one topic's metadata.
func (c *Catalog) Get(name string) (Topic, bool) {
	t, ok := c.topics[name]
	return t, ok
}

// Len returns the number of distinct topics loaded.
func (c *Catalog) Len() int {
	return len(c.order)
}
