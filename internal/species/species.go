package species

// Id is the catalog identifier of a species. Ids are assigned by the
// admin panel and stay stable for the lifetime of a species.
type Id int64

// Definition describes one catchable species. Rows are owned by the
// admin panel; the bot treats them as read-mostly reference data and
// re-reads them at every decision point instead of caching.
type Definition struct {
	Id      Id
	Key     string // stable string id, safe to rename the display name
	Name    string
	Aliases []string
	Weight  float64 // rarity weight, higher = more common

	MinAttack int
	MaxAttack int
	MinHealth int
	MaxHealth int

	Enabled bool
}

// Stats is one rolled stat line for a freshly caught instance.
type Stats struct {
	Attack int
	Health int
}
