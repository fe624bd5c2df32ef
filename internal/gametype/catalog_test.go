package gametype

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	list := c.List()
	if len(list) != 4 {
		t.Fatalf("expected 4 game types, got %d", len(list))
	}
	if list[0].ID != "bullet" || list[3].ID != "classical" {
		t.Fatalf("unexpected catalog order: %v", list)
	}

	blitz, ok := c.Get("blitz")
	if !ok {
		t.Fatalf("blitz missing")
	}
	if blitz.BaseDuration != 180 || blitz.Increment != 2 {
		t.Fatalf("unexpected blitz time control: %+v", blitz)
	}
	if blitz.Expiry() != time.Hour {
		t.Fatalf("unexpected blitz expiry: %v", blitz.Expiry())
	}

	if _, ok := c.Get("hyperbullet"); ok {
		t.Fatalf("unknown id resolved")
	}
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	override := `game_types:
  - id: custom
    name: Custom
    base_duration_seconds: 300
    increment_seconds: 3
    session_expiry_seconds: 900
`
	if err := os.WriteFile(path, []byte(override), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load override: %v", err)
	}
	if len(c.List()) != 1 {
		t.Fatalf("override should replace defaults entirely")
	}
	if _, ok := c.Get("bullet"); ok {
		t.Fatalf("defaults leaked through override")
	}
}

func TestParseRejectsBadCatalog(t *testing.T) {
	cases := map[string]string{
		"empty":        "game_types: []",
		"duplicate id": "game_types:\n  - {id: a, base_duration_seconds: 60, session_expiry_seconds: 60}\n  - {id: a, base_duration_seconds: 60, session_expiry_seconds: 60}",
		"zero base":    "game_types:\n  - {id: a, base_duration_seconds: 0, session_expiry_seconds: 60}",
	}
	for name, raw := range cases {
		if _, err := parse([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
