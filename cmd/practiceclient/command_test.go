package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{kind: commandNone}},
		{"  hello there ", command{kind: commandText, text: "hello there"}},
		{"/end", command{kind: commandEnd}},
		{"/quit", command{kind: commandQuit}},
		{"/voice clip.wav", command{kind: commandVoice, file: "clip.wav"}},
		{"/voice clip.wav I would like a table", command{kind: commandVoice, file: "clip.wav", text: "I would like a table"}},
		{"/shrug", command{kind: commandText, text: "/shrug"}},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	_, err := parseCommand("/voice")
	assert.ErrorIs(t, err, errVoiceUsage)
}

func TestWebsocketURL(t *testing.T) {
	u, err := websocketURL("https://practice.example.com/", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://practice.example.com/ws?token=abc", u)

	u, err = websocketURL("http://localhost:8081", "a b")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8081/ws?token=a+b", u)
}
