package gametype

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

//go:embed types.yaml
var defaultFiles embed.FS

// GameType is a static time-control preset. The catalog is loaded once at
// startup and never mutated afterwards.
type GameType struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Description   string `yaml:"description" json:"description"`
	BaseDuration  int    `yaml:"base_duration_seconds" json:"base_duration_seconds"`
	Increment     int    `yaml:"increment_seconds" json:"increment_seconds"`
	SessionExpiry int    `yaml:"session_expiry_seconds" json:"session_expiry_seconds"`
}

// Expiry returns how long a session of this type stays in the store.
func (g GameType) Expiry() time.Duration {
	return time.Duration(g.SessionExpiry) * time.Second
}

type catalogFile struct {
	GameTypes []GameType `yaml:"game_types"`
}

// Catalog is the immutable set of available game types.
type Catalog struct {
	byID  map[string]GameType
	order []string
}

// Load parses the embedded default catalog. When overridePath is non-empty
// the file at that path replaces the defaults entirely.
func Load(overridePath string) (*Catalog, error) {
	raw, err := fs.ReadFile(defaultFiles, "types.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded game types: %w", err)
	}
	if strings.TrimSpace(overridePath) != "" {
		raw, err = os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read game types override: %w", err)
		}
	}
	return parse(raw)
}

func parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse game types: %w", err)
	}
	if len(file.GameTypes) == 0 {
		return nil, fmt.Errorf("game type catalog is empty")
	}
	c := &Catalog{byID: make(map[string]GameType, len(file.GameTypes))}
	for _, gt := range file.GameTypes {
		id := strings.TrimSpace(gt.ID)
		if id == "" {
			return nil, fmt.Errorf("game type with empty id")
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("duplicate game type %q", id)
		}
		if gt.BaseDuration <= 0 || gt.Increment < 0 || gt.SessionExpiry <= 0 {
			return nil, fmt.Errorf("game type %q has invalid time control", id)
		}
		gt.ID = id
		c.byID[id] = gt
		c.order = append(c.order, id)
	}
	return c, nil
}

// Get looks up a game type by id.
func (c *Catalog) Get(id string) (GameType, bool) {
	gt, ok := c.byID[strings.TrimSpace(id)]
	return gt, ok
}

// List returns all game types in catalog order.
func (c *Catalog) List() []GameType {
	out := make([]GameType, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}
