package species

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "species.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefinitionsFromJSON(t *testing.T) {
	path := writeSeed(t, `[
		{"id": 1, "key": "france", "name": "France", "aliases": ["FR"], "weight": 6,
		 "minAttack": -20, "maxAttack": 20, "minHealth": -20, "maxHealth": 20},
		{"id": 2, "key": "reichtangle", "name": "Reichtangle", "weight": 0.2,
		 "minAttack": 0, "maxAttack": 50, "minHealth": 0, "maxHealth": 50, "enabled": false}
	]`)

	defs, err := LoadDefinitionsFromJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Name != "France" || !defs[0].Enabled {
		t.Fatalf("first def %+v: enabled should default to true", defs[0])
	}
	if defs[1].Enabled {
		t.Fatal("explicit enabled=false was ignored")
	}
	if len(defs[0].Aliases) != 1 || defs[0].Aliases[0] != "FR" {
		t.Fatalf("aliases %v, want [FR]", defs[0].Aliases)
	}
}

func TestLoadDefinitionsRejectsBadSeeds(t *testing.T) {
	cases := map[string]string{
		"empty list":    `[]`,
		"duplicate id":  `[{"id":1,"key":"a","name":"a","weight":1},{"id":1,"key":"b","name":"b","weight":1}]`,
		"duplicate key": `[{"id":1,"key":"a","name":"a","weight":1},{"id":2,"key":"a","name":"b","weight":1}]`,
		"missing key":   `[{"id":1,"name":"a","weight":1}]`,
		"missing name":  `[{"id":1,"key":"a","weight":1}]`,
		"zero weight":   `[{"id":1,"key":"a","name":"a","weight":0}]`,
		"zero id":       `[{"id":0,"key":"a","name":"a","weight":1}]`,
		"bad stats":     `[{"id":1,"key":"a","name":"a","weight":1,"minAttack":5,"maxAttack":1}]`,
		"not json":      `{`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadDefinitionsFromJSON(writeSeed(t, content)); err == nil {
				t.Fatalf("seed %q accepted, want error", name)
			}
		})
	}
}
