package conversation

// Roles of conversation turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one element of a structured turn body: either text or a
// base64-encoded audio clip, mirroring the upstream chat API shape.
type ContentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
}

// InputAudio carries user-submitted audio.
type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// Timing holds whichever timing fields were known when the turn completed.
// Assistant turns carry generation metrics, user turns client-side metrics.
type Timing struct {
	ModelGenerationTime float64 `json:"model_generation_time,omitempty"`
	AudioDuration       float64 `json:"audio_duration,omitempty"`
	UserResponseTime    float64 `json:"user_response_time,omitempty"`
	ThinkingTime        float64 `json:"thinking_time,omitempty"`
	RecordingTime       float64 `json:"recording_time,omitempty"`
}

// Turn is one message of the dialogue.
type Turn struct {
	Role    string
	Content []ContentPart
	// Transcript is the plain-text rendering of the turn: assistant transcript,
	// user typed text, or the speech-to-text result for audio turns.
	Transcript string
	Timing     *Timing
}

// TextTurn builds a single-part text turn.
func TextTurn(role, text string) Turn {
	return Turn{
		Role:       role,
		Content:    []ContentPart{{Type: "text", Text: text}},
		Transcript: text,
	}
}
