package conversation

import (
	"encoding/binary"
	"hash/fnv"
	"strings"
)

// DefaultTopic is the table entry used for topics without their own replies
const DefaultTopic = "default"

// FallbackTable holds canned replies keyed by topic and intent. Selection is
// a pure function of (seed, session id, turn index) so replies are reproducible.
type FallbackTable struct {
	replies map[string]map[Intent][]string
	seed    uint64
}

// NewFallbackTable builds a table. The "default" topic must cover every intent.
func NewFallbackTable(replies map[string]map[Intent][]string, seed uint64) *FallbackTable {
	return &FallbackTable{replies: replies, seed: seed}
}

// Reply picks the canned reply for a turn
func (t *FallbackTable) Reply(topicID string, intent Intent, sessionID string, turn int) string {
	options := t.options(topicID, intent)
	if len(options) == 0 {
		return "Let's keep practicing. Could you tell me a bit more?"
	}

	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], t.seed)
	h.Write(buf[:])
	h.Write([]byte(sessionID))
	idx := (h.Sum64() + uint64(turn)) % uint64(len(options))
	return options[idx]
}

func (t *FallbackTable) options(topicID string, intent Intent) []string {
	if byIntent, ok := t.replies[strings.ToLower(topicID)]; ok {
		if opts := byIntent[intent]; len(opts) > 0 {
			return opts
		}
	}
	return t.replies[DefaultTopic][intent]
}

// DefaultFallbacks is the built-in reply table
func DefaultFallbacks(seed uint64) *FallbackTable {
	return NewFallbackTable(map[string]map[Intent][]string{
		DefaultTopic: {
			IntentGreeting: {
				"Hello! It's great to practice with you. How are you today?",
				"Hi there! What would you like to talk about?",
			},
			IntentQuestion: {
				"That's a good question. What do you think about it?",
				"Interesting question! Could you tell me why you're asking?",
			},
			IntentFarewell: {
				"Goodbye! You did a great job today.",
				"See you next time. Keep practicing!",
			},
			IntentUnclear: {
				"Sorry, I didn't quite catch that. Could you say it again?",
				"I'm not sure I understood. Could you try saying it another way?",
			},
			IntentGeneral: {
				"I see. Could you tell me a little more about that?",
				"That's interesting! What happened next?",
				"Thanks for sharing. How did that make you feel?",
			},
		},
		"restaurant": {
			IntentGreeting: {"Good evening and welcome! Do you have a reservation?"},
			IntentQuestion: {"Let me check that for you. Would you like to hear today's specials in the meantime?"},
			IntentFarewell: {"Thank you for dining with us. Have a lovely evening!"},
			IntentGeneral: {
				"Certainly. Would you like something to drink with that?",
				"Of course. How would you like it prepared?",
			},
		},
		"travel": {
			IntentGreeting: {"Hello! Where are you travelling today?"},
			IntentQuestion: {"Good question. Let me look that up. Is this your first time visiting?"},
			IntentFarewell: {"Have a safe trip and enjoy your stay!"},
			IntentGeneral: {
				"Sounds exciting! How long will you be staying?",
				"I understand. May I see your passport, please?",
			},
		},
		"job-interview": {
			IntentGreeting: {"Good morning, thanks for coming in. Please, have a seat."},
			IntentQuestion: {"That's a fair question. Before I answer, could you tell me what interests you about the role?"},
			IntentFarewell: {"Thank you for your time. We'll be in touch soon."},
			IntentGeneral: {
				"Thank you. Can you give me an example from your previous work?",
				"I see. What would you say is your greatest strength?",
			},
		},
		"shopping": {
			IntentGreeting: {"Hi! Can I help you find anything today?"},
			IntentQuestion: {"Let me check the stock for you. What size are you looking for?"},
			IntentFarewell: {"Thanks for shopping with us. Have a great day!"},
			IntentGeneral: {
				"Great choice. Would you like to try it on?",
				"Sure. Will you be paying by card or cash?",
			},
		},
	}, seed)
}
