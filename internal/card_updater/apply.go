package card_updater

import (
	"strings"

	"github.com/samber/lo"

	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/cards"
)

// applyFieldUpdate mutates the card in memory according to the field's
// declared merge policy. The policy table decides the operation for known
// fields; unknown fields on self/character cards fall back to the action
// the model proposed. Shape guards keep mismatched values out.
func (u *Updater) applyFieldUpdate(card *cards.Card, fu fieldUpdate) bool {
	if card.Type == cards.TypeWorld {
		return applyWorldField(card, fu)
	}

	policy, declared := cards.PolicyFor(card.Type, fu.Field)
	if !declared {
		var ok bool
		policy, ok = policyForAction(fu.Action)
		if !ok {
			return false
		}
	}

	if card.Payload == nil {
		card.Payload = cards.Payload{}
	}
	root := card_metadata.ContentRoot(card.Payload)

	old, exists := root[fu.Field]
	if !exists {
		old = emptyValueFor(policy, fu.Value)
	}

	switch policy {
	case cards.PolicyReplace:
		root[fu.Field] = fu.Value
		return true

	case cards.PolicyMergeString:
		oldStr, okOld := old.(string)
		newStr, okNew := fu.Value.(string)
		if !okOld || !okNew {
			return false
		}
		root[fu.Field] = mergeTraitString(oldStr, newStr)
		return true

	case cards.PolicyAppend:
		oldList, okOld := old.([]any)
		newList, okNew := fu.Value.([]any)
		if !okOld || !okNew {
			return false
		}
		root[fu.Field] = append(oldList, newList...)
		return true

	case cards.PolicyAppendDedup:
		oldList, okOld := old.([]any)
		newList, okNew := fu.Value.([]any)
		if !okOld || !okNew {
			return false
		}
		root[fu.Field] = appendPatterns(oldList, newList)
		return true
	}
	return false
}

// applyWorldField restricts world events to replace-only corrections of
// the fields the policy table declares.
func applyWorldField(card *cards.Card, fu fieldUpdate) bool {
	policy, declared := cards.PolicyFor(cards.TypeWorld, fu.Field)
	if !declared || policy != cards.PolicyReplace || fu.Action != "replace" {
		return false
	}

	switch fu.Field {
	case "description":
		value, ok := fu.Value.(string)
		if !ok {
			return false
		}
		card.Description = value
	case "key_array":
		value, ok := fu.Value.([]any)
		if !ok {
			return false
		}
		keywords := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				keywords = append(keywords, s)
			}
		}
		card.Keywords = keywords
	default:
		return false
	}
	return true
}

func policyForAction(action string) (cards.MergePolicy, bool) {
	switch action {
	case "replace":
		return cards.PolicyReplace, true
	case "merge":
		return cards.PolicyMergeString, true
	case "append":
		return cards.PolicyAppend, true
	default:
		return 0, false
	}
}

// emptyValueFor picks the zero value a missing field is initialized to
// before the policy is applied.
func emptyValueFor(policy cards.MergePolicy, value any) any {
	switch policy {
	case cards.PolicyAppend, cards.PolicyAppendDedup:
		return []any{}
	}
	switch value.(type) {
	case []any:
		return []any{}
	case map[string]any:
		return map[string]any{}
	default:
		return ""
	}
}

// mergeTraitString merges comma-separated trait strings: lower-cased,
// deduplicated preserving old-then-new order, each trait re-capitalized.
func mergeTraitString(old, incoming string) string {
	tokenize := func(s string) []string {
		parts := strings.Split(s, ",")
		var tokens []string
		for _, p := range parts {
			if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
				tokens = append(tokens, t)
			}
		}
		return tokens
	}

	all := lo.Uniq(append(tokenize(old), tokenize(incoming)...))
	return strings.Join(lo.Map(all, func(t string, _ int) string {
		return capitalize(t)
	}), ", ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// appendPatterns appends pattern objects, deduping against existing
// entries by their lower-cased "pattern" string.
func appendPatterns(old, incoming []any) []any {
	existing := make(map[string]bool)
	for _, item := range old {
		if key := patternKey(item); key != "" {
			existing[key] = true
		}
	}

	result := old
	for _, item := range incoming {
		key := patternKey(item)
		if key == "" || existing[key] {
			continue
		}
		existing[key] = true
		result = append(result, item)
	}
	return result
}

func patternKey(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	pattern, _ := obj["pattern"].(string)
	return strings.ToLower(pattern)
}
