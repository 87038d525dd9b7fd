// Package catalog loads the visualization chart templates the classifier can
// choose from. The catalog is built once at startup and is read-only afterwards.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Channel is a named visual-encoding slot of a chart template.
type Channel struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ChartTemplate describes one visualization the frontend knows how to render.
type ChartTemplate struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Channels    []Channel `json:"channels"`
}

// ChannelNames returns the channel names in declaration order.
func (t ChartTemplate) ChannelNames() []string {
	names := make([]string, len(t.Channels))
	for i, c := range t.Channels {
		names[i] = c.Name
	}
	return names
}

type Catalog struct {
	templates []ChartTemplate
	byID      map[string]int
}

// New builds a catalog from already parsed templates. Templates without an id
// are dropped; on duplicate ids the first one wins.
func New(templates []ChartTemplate) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(templates))}
	for _, t := range templates {
		if t.ID == "" {
			continue
		}
		if _, ok := c.byID[t.ID]; ok {
			continue
		}
		c.byID[t.ID] = len(c.templates)
		c.templates = append(c.templates, cloneTemplate(t))
	}
	return c
}

// Load reads every *.json file in dir. Files that cannot be parsed or have no
// id are skipped with a warning; a missing directory yields an empty catalog.
func Load(log *slog.Logger, dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("catalog: charts directory not found", "dir", dir)
			return New(nil), nil
		}
		return nil, fmt.Errorf("failed to read charts directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	log.Info("catalog: found chart files", "dir", dir, "count", len(names))

	templates := make([]ChartTemplate, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		t, err := loadFile(path)
		if err != nil {
			log.Warn("catalog: skipping chart file", "file", name, "error", err)
			continue
		}
		if prev, ok := seen[t.ID]; ok {
			log.Warn("catalog: duplicate chart id", "id", t.ID, "file", name, "kept", prev)
			continue
		}
		seen[t.ID] = name
		log.Debug("catalog: loaded chart", "id", t.ID, "channels", len(t.Channels))
		templates = append(templates, t)
	}

	return New(templates), nil
}

func loadFile(path string) (ChartTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChartTemplate{}, err
	}

	// Chart files also carry frontend rendering options, which are ignored here.
	var raw struct {
		ID          string            `json:"id"`
		Description string            `json:"description"`
		Channels    []json.RawMessage `json:"channels"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChartTemplate{}, fmt.Errorf("invalid json: %w", err)
	}
	if raw.ID == "" {
		return ChartTemplate{}, errors.New("missing id")
	}

	t := ChartTemplate{ID: raw.ID, Description: raw.Description}
	for _, rc := range raw.Channels {
		var ch Channel
		if err := json.Unmarshal(rc, &ch); err != nil {
			continue
		}
		if ch.Name == "" || ch.Type == "" {
			continue
		}
		t.Channels = append(t.Channels, ch)
	}
	return t, nil
}

// Lookup returns the template with the given id.
func (c *Catalog) Lookup(id string) (ChartTemplate, bool) {
	i, ok := c.byID[id]
	if !ok {
		return ChartTemplate{}, false
	}
	return cloneTemplate(c.templates[i]), true
}

// Templates returns a copy of all templates in load order.
func (c *Catalog) Templates() []ChartTemplate {
	out := make([]ChartTemplate, len(c.templates))
	for i, t := range c.templates {
		out[i] = cloneTemplate(t)
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.templates)
}

func cloneTemplate(t ChartTemplate) ChartTemplate {
	if t.Channels != nil {
		t.Channels = append([]Channel(nil), t.Channels...)
	}
	return t
}
