package main

import (
	"errors"
	"strings"
)

type commandKind int

const (
	commandNone commandKind = iota
	commandText
	commandVoice
	commandEnd
	commandQuit
)

type command struct {
	kind commandKind
	text string
	file string
}

var errVoiceUsage = errors.New("usage: /voice <file> [reference text]")

// parseCommand turns one input line into a client action
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: commandNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: commandText, text: line}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/end":
		return command{kind: commandEnd}, nil
	case "/quit", "/exit":
		return command{kind: commandQuit}, nil
	case "/voice":
		if len(fields) < 2 {
			return command{}, errVoiceUsage
		}
		return command{kind: commandVoice, file: fields[1], text: strings.Join(fields[2:], " ")}, nil
	default:
		// unknown slash commands are sent as text
		return command{kind: commandText, text: line}, nil
	}
}
