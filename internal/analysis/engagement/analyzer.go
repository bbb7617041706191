package engagement

import (
	"strings"

	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
)

// Classification outcomes. The classifier contract is binary: stalled ends the
// session, active lets it continue.
const (
	Active  = 0
	Stalled = 1
)

// Disinterest phrases that, repeated across consecutive user turns, indicate
// the user has checked out of the dialogue.
var disinterestMarkers = []string{
	"i don't care",
	"i dont care",
	"whatever",
	"don't know",
	"dont know",
	"stop talking",
	"leave me alone",
	"not interested",
	"this is boring",
	"idk",
}

const consecutiveStallThreshold = 3

// Analyze applies deterministic rules to the turn history. It is the floor
// under the LLM classifier: short histories are always active, and a run of
// repeated or disinterested user turns is stalled without any model call.
func Analyze(turns []conversation.Turn) int {
	if len(turns) <= 2 {
		// Conversation setup; nothing to judge yet.
		return Active
	}

	userTurns := collectUserTurns(turns)
	if len(userTurns) < consecutiveStallThreshold {
		return Active
	}

	recent := userTurns[len(userTurns)-consecutiveStallThreshold:]
	if allDisinterested(recent) || allIdentical(recent) {
		return Stalled
	}

	return Active
}

func collectUserTurns(turns []conversation.Turn) []string {
	texts := make([]string, 0, len(turns))
	for _, turn := range turns {
		if turn.Role != conversation.RoleUser {
			continue
		}
		text := strings.TrimSpace(strings.ToLower(turn.Transcript))
		if text == "" {
			continue
		}
		texts = append(texts, text)
	}
	return texts
}

func allDisinterested(texts []string) bool {
	for _, text := range texts {
		if !isDisinterested(text) {
			return false
		}
	}
	return true
}

func isDisinterested(text string) bool {
	for _, marker := range disinterestMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func allIdentical(texts []string) bool {
	for _, text := range texts[1:] {
		if text != texts[0] {
			return false
		}
	}
	return true
}
