package conversation

import (
	"sync"
	"time"
)

// State tracks where a session sits in its lifecycle.
type State string

const (
	StateAwaitingStart    State = "awaiting_start"
	StateStreamingInitial State = "streaming_initial"
	StateAwaitingUserTurn State = "awaiting_user_turn"
	StateStreamingTurn    State = "streaming_turn"
	StateTerminated       State = "terminated"
)

// Session captures the in-memory state of one live conversation. A WebSocket
// session is owned by its connection goroutine. Cookie sessions are shared
// across requests; those callers hold Lock for the whole request.
type Session struct {
	mu sync.Mutex

	ID         string
	Article    string
	Mode       string
	OriginURL  string
	ProlificID string

	Turns []Turn
	State State

	// Timing bookkeeping for the next persisted message.
	LastResponseAt     time.Time
	LastGenerationTime float64
	LastAudioDuration  float64

	CreatedAt time.Time
}

// Append records a completed turn. Turns are immutable once appended.
func (s *Session) Append(turn Turn) {
	s.Turns = append(s.Turns, turn)
}

// Lock serializes access for callers that share the session across requests.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }
