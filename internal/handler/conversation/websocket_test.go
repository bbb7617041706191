package conversation

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"

	"github.com/apollolytics/dialogue-backend/internal/analysis/engagement"
	"github.com/apollolytics/dialogue-backend/internal/config"
	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
	"github.com/apollolytics/dialogue-backend/internal/model/propaganda"
	"github.com/apollolytics/dialogue-backend/internal/service/ai"
	"github.com/apollolytics/dialogue-backend/internal/service/audio"
	"github.com/apollolytics/dialogue-backend/internal/service/session"
)

type fakeGenerator struct {
	transcript string
	chunks     []string
	audioData  string
	transcribe string
}

func (f *fakeGenerator) Generate(_ context.Context, _ []conversation.Turn, _ int) (*ai.GenerationResult, error) {
	return &ai.GenerationResult{
		Transcript:     f.transcript,
		TextChunks:     f.chunks,
		AudioData:      f.audioData,
		AudioID:        "audio_1",
		GenerationTime: 0.5,
	}, nil
}

func (f *fakeGenerator) Transcribe(_ context.Context, _ string) (string, error) {
	return f.transcribe, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, _, _ string) propaganda.Result {
	return propaganda.Result{}
}

type fakeStall struct {
	mu      sync.Mutex
	verdict int
}

func (f *fakeStall) set(verdict int) {
	f.mu.Lock()
	f.verdict = verdict
	f.mu.Unlock()
}

func (f *fakeStall) Evaluate(_ context.Context, _ []conversation.Turn) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verdict
}

type recordedMessage struct {
	role    string
	content string
}

type captureRecorder struct {
	mu         sync.Mutex
	inits      int
	analyses   int
	messages   []recordedMessage
	endReasons []string
}

func (c *captureRecorder) SessionInit(_ context.Context, _, _, _, _ string) {
	c.mu.Lock()
	c.inits++
	c.mu.Unlock()
}

func (c *captureRecorder) PropagandaAnalysis(_ context.Context, _ string, _ propaganda.Result) {
	c.mu.Lock()
	c.analyses++
	c.mu.Unlock()
}

func (c *captureRecorder) Message(_ context.Context, _, _, role, content string, _ *conversation.Timing) {
	c.mu.Lock()
	c.messages = append(c.messages, recordedMessage{role: role, content: content})
	c.mu.Unlock()
}

func (c *captureRecorder) SessionEnd(_ context.Context, _, reason string) {
	c.mu.Lock()
	c.endReasons = append(c.endReasons, reason)
	c.mu.Unlock()
}

type receivedEvent struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
}

func newTestConnection(t *testing.T, gen Generator, stall StallEvaluator, recorder *captureRecorder) *websocket.Conn {
	t.Helper()

	handler := NewWebSocketHandler(
		session.NewMemoryStore(),
		gen,
		fakeAnalyzer{},
		stall,
		audio.NewNormalizer(config.AudioConfig{FFmpegPath: "ffmpeg"}),
		recorder,
		config.StreamingConfig{ChunkSize: 5, DelayMillis: 0, TimingCapture: true},
	)

	server := httptest.NewServer(http.HandlerFunc(handler.handleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) receivedEvent {
	t.Helper()
	var evt receivedEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return evt
}

// readAssistantTurn consumes deltas until assistant_final and returns the
// concatenated text, the number of audio deltas, and the final payload.
func readAssistantTurn(t *testing.T, conn *websocket.Conn) (string, int, map[string]any) {
	t.Helper()

	var text strings.Builder
	audioDeltas := 0

	for {
		evt := readEvent(t, conn)
		switch evt.Type {
		case "assistant_delta":
			if chunk, ok := evt.Payload["text"].(string); ok && chunk != "" {
				text.WriteString(chunk)
			}
			if _, ok := evt.Payload["audio"]; ok {
				audioDeltas++
			}
		case "assistant_final":
			return text.String(), audioDeltas, evt.Payload
		default:
			t.Fatalf("unexpected event %q while streaming", evt.Type)
		}
	}
}

func TestUserBeforeStartIsRejected(t *testing.T) {
	recorder := &captureRecorder{}
	gen := &fakeGenerator{transcript: "hi", chunks: []string{"hi"}}
	conn := newTestConnection(t, gen, &fakeStall{verdict: engagement.Active}, recorder)

	if err := conn.WriteJSON(map[string]any{"type": "user", "content": []map[string]string{{"type": "text", "text": "hello"}}}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Type != "error" {
		t.Fatalf("expected error event, got %q", evt.Type)
	}

	// The connection closes without any session having been recorded.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close after protocol violation")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.inits != 0 || len(recorder.endReasons) != 0 {
		t.Fatalf("no session events should be recorded, got inits=%d ends=%v", recorder.inits, recorder.endReasons)
	}
}

func TestInitialTurnStreamsDeltasThenAudioThenFinal(t *testing.T) {
	recorder := &captureRecorder{}
	gen := &fakeGenerator{
		transcript: "abcdefghij",
		chunks:     []string{"abcde", "fghij"},
		audioData:  base64.StdEncoding.EncodeToString([]byte("not wav")),
	}
	conn := newTestConnection(t, gen, &fakeStall{verdict: engagement.Active}, recorder)

	if err := conn.WriteJSON(map[string]any{"type": "start", "article": "NATO expansion debate", "mode": "critical"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	text, audioDeltas, final := readAssistantTurn(t, conn)
	if text == "" {
		t.Fatalf("expected non-empty concatenated text")
	}
	if audioDeltas != 1 {
		t.Fatalf("expected exactly one audio delta, got %d", audioDeltas)
	}
	if final["text"] != text {
		t.Fatalf("final text %q does not match concatenated deltas %q", final["text"], text)
	}
	if id, _ := final["id"].(string); !strings.HasPrefix(id, "assistant_") {
		t.Fatalf("expected assistant-prefixed id, got %v", final["id"])
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.inits != 1 || recorder.analyses != 1 {
		t.Fatalf("expected one init and one analysis record, got %d/%d", recorder.inits, recorder.analyses)
	}
	if len(recorder.messages) != 1 || recorder.messages[0].role != conversation.RoleAssistant {
		t.Fatalf("expected exactly the assistant message persisted, got %+v", recorder.messages)
	}
	if recorder.messages[0].content != "abcdefghij" {
		t.Fatalf("persisted transcript mismatch: %q", recorder.messages[0].content)
	}
}

func TestStallEndsSessionWithSingleReason(t *testing.T) {
	recorder := &captureRecorder{}
	gen := &fakeGenerator{transcript: "hello", chunks: []string{"hello"}}
	stall := &fakeStall{verdict: engagement.Active}
	conn := newTestConnection(t, gen, stall, recorder)

	if err := conn.WriteJSON(map[string]any{"type": "start", "article": "article text", "mode": "critical"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readAssistantTurn(t, conn)

	stall.set(engagement.Stalled)
	if err := conn.WriteJSON(map[string]any{"type": "user", "content": []map[string]string{{"type": "text", "text": "whatever"}}}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Type != "conversation_end" {
		t.Fatalf("expected conversation_end, got %q", evt.Type)
	}
	if evt.Payload["reason"] != "conversation_stalled" {
		t.Fatalf("expected conversation_stalled reason, got %v", evt.Payload["reason"])
	}

	// Wait for the server side to finish teardown.
	_, _, _ = conn.ReadMessage()

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.endReasons) != 1 || recorder.endReasons[0] != "conversation_stalled" {
		t.Fatalf("expected exactly one conversation_stalled end record, got %v", recorder.endReasons)
	}
}

func TestMalformedFrameKeepsSessionAlive(t *testing.T) {
	recorder := &captureRecorder{}
	gen := &fakeGenerator{transcript: "hello", chunks: []string{"hello"}}
	conn := newTestConnection(t, gen, &fakeStall{verdict: engagement.Active}, recorder)

	if err := conn.WriteJSON(map[string]any{"type": "start", "article": "article text", "mode": "critical"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readAssistantTurn(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("this is not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Type != "error" {
		t.Fatalf("expected error event for undecodable frame, got %q", evt.Type)
	}

	// The session must survive the bad frame.
	if err := conn.WriteJSON(map[string]any{"type": "user", "content": []map[string]string{{"type": "text", "text": "still here"}}}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readAssistantTurn(t, conn)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.endReasons) != 0 {
		t.Fatalf("bad frame must not end the session, got end records %v", recorder.endReasons)
	}
}

func TestAudioTurnPersistsTranscriptOnly(t *testing.T) {
	recorder := &captureRecorder{}
	gen := &fakeGenerator{
		transcript: "response",
		chunks:     []string{"respo", "nse"},
		transcribe: "spoken words",
	}
	conn := newTestConnection(t, gen, &fakeStall{verdict: engagement.Active}, recorder)

	if err := conn.WriteJSON(map[string]any{"type": "start", "article": "article text", "mode": "critical"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readAssistantTurn(t, conn)

	wavB64 := base64.StdEncoding.EncodeToString(makeWAV(t))
	userMsg := map[string]any{
		"type": "user",
		"content": []map[string]any{
			{"type": "input_audio", "input_audio": map[string]string{"data": wavB64, "format": "wav"}},
		},
	}
	if err := conn.WriteJSON(userMsg); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Type != "user_transcript" {
		t.Fatalf("expected user_transcript event, got %q", evt.Type)
	}
	if evt.Payload["transcript"] != "spoken words" {
		t.Fatalf("unexpected transcript payload: %v", evt.Payload)
	}

	readAssistantTurn(t, conn)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	var userRecords []recordedMessage
	for _, msg := range recorder.messages {
		if msg.role == conversation.RoleUser {
			userRecords = append(userRecords, msg)
		}
	}
	if len(userRecords) != 1 {
		t.Fatalf("expected one persisted user message, got %d", len(userRecords))
	}
	if userRecords[0].content != "spoken words" {
		t.Fatalf("expected transcript text persisted, got %q", userRecords[0].content)
	}
	if strings.Contains(userRecords[0].content, wavB64[:16]) {
		t.Fatalf("raw audio payload must not be persisted")
	}
}

// makeWAV writes one second of silence through the WAV encoder.
func makeWAV(t *testing.T) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create temp wav: %v", err)
	}

	const sampleRate = 8000
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, sampleRate),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}
