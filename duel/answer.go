package duel

import "strings"

// MatchAnswer reports whether a guess hits the answer, ignoring case and
// surrounding whitespace. "  Eiffel Tower  " matches "eiffel tower".
func MatchAnswer(guess, answer string) bool {
	return strings.EqualFold(strings.TrimSpace(guess), strings.TrimSpace(answer))
}
