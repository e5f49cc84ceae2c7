package species

import (
	"encoding/json"
	"fmt"
	"os"
)

type definitionJSON struct {
	Id        int64    `json:"id"`
	Key       string   `json:"key"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	Weight    float64  `json:"weight"`
	MinAttack int      `json:"minAttack"`
	MaxAttack int      `json:"maxAttack"`
	MinHealth int      `json:"minHealth"`
	MaxHealth int      `json:"maxHealth"`
	Enabled   *bool    `json:"enabled"`
}

// LoadDefinitionsFromJSON reads a species seed file. Enabled defaults
// to true when omitted.
func LoadDefinitionsFromJSON(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []definitionJSON
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("species list is empty")
	}

	seenKey := map[string]bool{}
	seenId := map[int64]bool{}
	defs := make([]Definition, 0, len(arr))

	for i, dj := range arr {
		if dj.Id <= 0 {
			return nil, fmt.Errorf("non-positive id at index %d", i)
		}
		if seenId[dj.Id] {
			return nil, fmt.Errorf("duplicate id %d", dj.Id)
		}
		if dj.Key == "" {
			return nil, fmt.Errorf("missing key at id %d", dj.Id)
		}
		if seenKey[dj.Key] {
			return nil, fmt.Errorf("duplicate key %q", dj.Key)
		}
		if dj.Name == "" {
			return nil, fmt.Errorf("missing name at id %d", dj.Id)
		}
		if dj.Weight <= 0 {
			return nil, fmt.Errorf("non-positive weight at id %d", dj.Id)
		}
		if dj.MaxAttack < dj.MinAttack || dj.MaxHealth < dj.MinHealth {
			return nil, fmt.Errorf("invalid stat range at id %d", dj.Id)
		}

		seenId[dj.Id] = true
		seenKey[dj.Key] = true

		enabled := true
		if dj.Enabled != nil {
			enabled = *dj.Enabled
		}
		defs = append(defs, Definition{
			Id:        Id(dj.Id),
			Key:       dj.Key,
			Name:      dj.Name,
			Aliases:   dj.Aliases,
			Weight:    dj.Weight,
			MinAttack: dj.MinAttack,
			MaxAttack: dj.MaxAttack,
			MinHealth: dj.MinHealth,
			MaxHealth: dj.MaxHealth,
			Enabled:   enabled,
		})
	}
	return defs, nil
}
