package lifecycle

import "strings"

// ResolvedMarker is the reaction attached to a message once its alert resolves.
const ResolvedMarker = "\u2705" // white heavy check mark

// Action is what a reaction asks the engine to do.
type Action int

const (
	ActionNone Action = iota
	ActionAcknowledge
	ActionResolve
)

// thumbs up and its skin tone variants
var acknowledgeKeys = map[string]struct{}{
	"\U0001f44d":           {},
	"\U0001f44d\U0001f3fb": {},
	"\U0001f44d\U0001f3fc": {},
	"\U0001f44d\U0001f3fd": {},
	"\U0001f44d\U0001f3fe": {},
	"\U0001f44d\U0001f3ff": {},
}

var resolveKeys = map[string]struct{}{
	"\u2705": {}, // white heavy check mark
	"\u2714": {}, // heavy check mark
	"\u2611": {}, // ballot box with check
}

// NormalizeKey strips trailing variation selectors, clients send the same
// glyph with and without them.
func NormalizeKey(key string) string {
	return strings.TrimRight(key, "\ufe0f\ufe0e")
}

// Classify maps a reaction key to an Action.
func Classify(key string) Action {
	key = NormalizeKey(key)
	if _, ok := acknowledgeKeys[key]; ok {
		return ActionAcknowledge
	}
	if _, ok := resolveKeys[key]; ok {
		return ActionResolve
	}
	return ActionNone
}
