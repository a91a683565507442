package conversation

import (
	"strings"
	"unicode"
)

// Intent is the coarse category of a learner turn used to pick a fallback reply
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentQuestion Intent = "question"
	IntentFarewell Intent = "farewell"
	IntentUnclear  Intent = "unclear"
	IntentGeneral  Intent = "general"
)

var (
	greetingPrefixes = []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening", "greetings", "nice to meet"}
	farewellPhrases  = []string{"bye", "goodbye", "see you", "good night", "talk to you later", "have a nice day", "take care"}
	questionStarters = []string{"what", "where", "when", "why", "who", "which", "how", "can", "could", "would", "do", "does", "did", "is", "are", "will", "should", "may"}
)

// ClassifyIntent buckets a learner utterance. Empty or letterless input is unclear.
func ClassifyIntent(text string) Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	if countLetters(t) < 2 {
		return IntentUnclear
	}

	words := strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return IntentUnclear
	}
	joined := strings.Join(words, " ")

	for _, p := range farewellPhrases {
		if containsPhrase(joined, p) {
			return IntentFarewell
		}
	}
	for _, p := range greetingPrefixes {
		if joined == p || strings.HasPrefix(joined, p+" ") {
			return IntentGreeting
		}
	}
	if strings.HasSuffix(t, "?") {
		return IntentQuestion
	}
	for _, q := range questionStarters {
		if words[0] == q {
			return IntentQuestion
		}
	}
	return IntentGeneral
}

func containsPhrase(s, phrase string) bool {
	return s == phrase ||
		strings.HasPrefix(s, phrase+" ") ||
		strings.HasSuffix(s, " "+phrase) ||
		strings.Contains(s, " "+phrase+" ")
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
