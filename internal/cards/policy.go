package cards

// MergePolicy describes how a proposed value is combined with the stored
// value for a field.
type MergePolicy int

const (
	// PolicyReplace overwrites the stored value.
	PolicyReplace MergePolicy = iota
	// PolicyMergeString tokenizes both values on commas, dedupes
	// case-insensitively preserving old-then-new order, and rejoins.
	PolicyMergeString
	// PolicyAppend concatenates list values without dedup.
	PolicyAppend
	// PolicyAppendDedup appends list items, deduping by the lower-cased
	// "pattern" key of each item.
	PolicyAppendDedup
)

// PatternsField is the list field with dedup-on-append semantics.
const PatternsField = "patterns"

// selfCharacterPolicies maps known payload fields to their merge policy.
// Unknown fields fall back to the action proposed by the updater's caller.
var selfCharacterPolicies = map[string]MergePolicy{
	"personality":       PolicyMergeString,
	PatternsField:       PolicyAppendDedup,
	"summary":           PolicyReplace,
	"name":              PolicyReplace,
	"relationship_type": PolicyReplace,
	"key_events":        PolicyAppend,
	"user_feelings":     PolicyAppend,
	"traits":            PolicyAppend,
	"interests":         PolicyAppend,
	"values":            PolicyAppend,
	"strengths":         PolicyAppend,
	"challenges":        PolicyAppend,
	"goals":             PolicyAppend,
	"triggers":          PolicyAppend,
	"coping_strategies": PolicyAppend,
	"current_themes":    PolicyAppend,
}

// worldPolicies restricts world event updates to corrections of the
// description and keyword array. Events are otherwise immutable facts.
var worldPolicies = map[string]MergePolicy{
	"description": PolicyReplace,
	"key_array":   PolicyReplace,
}

// PolicyFor resolves the merge policy for a field at schema level.
// The second return reports whether the field has a declared policy;
// for world cards an undeclared field means the update is not allowed.
func PolicyFor(t CardType, field string) (MergePolicy, bool) {
	switch t {
	case TypeWorld:
		p, ok := worldPolicies[field]
		return p, ok
	default:
		p, ok := selfCharacterPolicies[field]
		return p, ok
	}
}
