package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Hello!", IntentGreeting},
		{"good morning, how are you", IntentGreeting},
		{"Where is the train station?", IntentQuestion},
		{"can I pay by card", IntentQuestion},
		{"Thanks, goodbye", IntentFarewell},
		{"", IntentUnclear},
		{"?!", IntentUnclear},
		{"I went to the market yesterday", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIntent(tt.text))
		})
	}
}

func TestFallbackReplyIsDeterministic(t *testing.T) {
	a := DefaultFallbacks(42)
	b := DefaultFallbacks(42)

	for turn := 0; turn < 6; turn++ {
		assert.Equal(t,
			a.Reply("travel", IntentGeneral, "s1", turn),
			b.Reply("travel", IntentGeneral, "s1", turn))
	}
}

func TestFallbackReplyCyclesThroughOptions(t *testing.T) {
	table := NewFallbackTable(map[string]map[Intent][]string{
		DefaultTopic: {IntentGeneral: {"a", "b", "c"}},
	}, 1)

	seen := map[string]bool{}
	for turn := 0; turn < 3; turn++ {
		seen[table.Reply("anything", IntentGeneral, "s1", turn)] = true
	}
	assert.Len(t, seen, 3)
}

func TestFallbackReplyUsesTopicThenDefault(t *testing.T) {
	table := NewFallbackTable(map[string]map[Intent][]string{
		DefaultTopic: {IntentGreeting: {"default hello"}, IntentQuestion: {"default question"}},
		"restaurant": {IntentGreeting: {"welcome to the restaurant"}},
	}, 0)

	assert.Equal(t, "welcome to the restaurant", table.Reply("Restaurant", IntentGreeting, "s", 0))
	assert.Equal(t, "default question", table.Reply("restaurant", IntentQuestion, "s", 0))
	assert.Equal(t, "default hello", table.Reply("unknown", IntentGreeting, "s", 0))
	assert.NotEmpty(t, table.Reply("unknown", IntentFarewell, "s", 0))
}

func TestDefaultFallbacksCoverEveryIntent(t *testing.T) {
	table := DefaultFallbacks(0)
	for _, topic := range []string{"default", "restaurant", "travel", "job-interview", "shopping", "unknown"} {
		for _, intent := range []Intent{IntentGreeting, IntentQuestion, IntentFarewell, IntentUnclear, IntentGeneral} {
			assert.NotEmpty(t, table.Reply(topic, intent, "s1", 3), "%s/%s", topic, intent)
		}
	}
}
