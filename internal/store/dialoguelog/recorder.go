// Package dialoguelog persists the research event log: one append-only stream
// of events per dialogue session.
package dialoguelog

import (
	"context"
	"time"

	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
	"github.com/apollolytics/dialogue-backend/internal/model/propaganda"
)

// Event types stored in the log.
const (
	EventSessionInit        = "session_init"
	EventPropagandaAnalysis = "propaganda_analysis"
	EventMessage            = "message"
	EventSessionEnd         = "session_end"
)

// Recorder appends dialogue events. Implementations log their own failures
// and never propagate them; losing a log entry must not break a live session.
type Recorder interface {
	SessionInit(ctx context.Context, sessionID, article, mode, originURL string)
	PropagandaAnalysis(ctx context.Context, sessionID string, result propaganda.Result)
	Message(ctx context.Context, sessionID, messageID, role, content string, timing *conversation.Timing)
	SessionEnd(ctx context.Context, sessionID, reason string)
}

// Reader retrieves the persisted event stream of a session, in order.
type Reader interface {
	Events(ctx context.Context, sessionID string) ([]Event, error)
}

// Event is one stored log entry. Only the fields relevant to its type are set.
type Event struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
	EventType string `json:"event_type"`
	CreatedAt string `json:"created_at"`

	// session_init
	Article      string `json:"article,omitempty"`
	DialogueMode string `json:"dialogue_mode,omitempty"`
	OriginURL    string `json:"origin_url,omitempty"`

	// propaganda_analysis
	PropagandaResult map[string][]propaganda.Finding `json:"propaganda_result,omitempty"`

	// message
	MessageID  string               `json:"message_id,omitempty"`
	Role       string               `json:"role,omitempty"`
	Content    string               `json:"content,omitempty"`
	TimingInfo *conversation.Timing `json:"timing_info,omitempty"`

	// session_end
	Reason string `json:"reason,omitempty"`
}

func newEvent(sessionID, eventType string, now time.Time) Event {
	return Event{
		SessionID: sessionID,
		Timestamp: now.UnixNano(),
		EventType: eventType,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}
