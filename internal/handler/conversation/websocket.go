package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/analysis/engagement"
	"github.com/apollolytics/dialogue-backend/internal/config"
	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
	"github.com/apollolytics/dialogue-backend/internal/model/propaganda"
	"github.com/apollolytics/dialogue-backend/internal/service/ai"
	"github.com/apollolytics/dialogue-backend/internal/service/audio"
	"github.com/apollolytics/dialogue-backend/internal/service/session"
	"github.com/apollolytics/dialogue-backend/internal/store/dialoguelog"
)

// Session-end reasons. Exactly one is recorded per terminated session.
const (
	reasonNormalDisconnect   = "normal_disconnect"
	reasonClientDisconnected = "client_disconnected"
	reasonStalled            = "conversation_stalled"
)

// Generator produces assistant turns and transcribes user audio.
type Generator interface {
	Generate(ctx context.Context, turns []conversation.Turn, chunkSize int) (*ai.GenerationResult, error)
	Transcribe(ctx context.Context, wavBase64 string) (string, error)
}

// Analyzer runs the propaganda detection pass over the article.
type Analyzer interface {
	Analyze(ctx context.Context, article, originURL string) propaganda.Result
}

// StallEvaluator judges whether the dialogue should continue.
type StallEvaluator interface {
	Evaluate(ctx context.Context, turns []conversation.Turn) int
}

// WebSocketHandler drives one dialogue session per connection.
type WebSocketHandler struct {
	sessions   session.Store
	generator  Generator
	analyzer   Analyzer
	stall      StallEvaluator
	normalizer *audio.Normalizer
	recorder   dialoguelog.Recorder
	streaming  config.StreamingConfig
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler wires the dialogue pipeline into a connection handler.
func NewWebSocketHandler(
	sessions session.Store,
	generator Generator,
	analyzer Analyzer,
	stall StallEvaluator,
	normalizer *audio.Normalizer,
	recorder dialoguelog.Recorder,
	streaming config.StreamingConfig,
) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:   sessions,
		generator:  generator,
		analyzer:   analyzer,
		stall:      stall,
		normalizer: normalizer,
		recorder:   recorder,
		streaming:  streaming,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes registers the dialogue endpoint.
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/conversation", h.handleWebSocket)
}

type clientMessage struct {
	Type       string                     `json:"type"`
	Article    string                     `json:"article,omitempty"`
	Mode       string                     `json:"mode,omitempty"`
	OriginURL  string                     `json:"origin_url,omitempty"`
	ProlificID string                     `json:"prolific_id,omitempty"`
	Content    []conversation.ContentPart `json:"content,omitempty"`
	Timing     *conversation.Timing       `json:"timing,omitempty"`
}

type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

type deltaPayload struct {
	Text    string `json:"text,omitempty"`
	Audio   string `json:"audio,omitempty"`
	AudioID string `json:"audio_id,omitempty"`
}

type finalPayload struct {
	Text   string               `json:"text"`
	ID     string               `json:"id"`
	Timing *conversation.Timing `json:"timing"`
}

type transcriptPayload struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	ItemID     string `json:"item_id"`
}

type endPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// liveSession tracks per-connection teardown state so exactly one session-end
// record is written no matter which path terminates the loop.
type liveSession struct {
	sess    *conversation.Session
	started bool
	ended   bool
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Error("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := h.sessions.Create()
	live := &liveSession{sess: sess}
	defer h.sessions.Delete(sess.ID)

	logrus.WithField("session_id", sess.ID).Info("new conversation session")

	ctx := r.Context()

	if err := h.awaitStart(ctx, conn, live); err != nil {
		// Rejected before any state was persisted; nothing to record.
		return
	}

	if err := h.streamAssistantTurn(ctx, conn, live); err != nil {
		h.failSession(ctx, conn, live, err)
		return
	}

	h.userLoop(ctx, conn, live)
}

// awaitStart enforces the protocol ordering: the first client message must be
// a start carrying the article. Anything else closes the connection.
func (h *WebSocketHandler) awaitStart(ctx context.Context, conn *websocket.Conn, live *liveSession) error {
	var msg clientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		if isDecodeError(err) {
			h.sendError(conn, "Invalid message format.")
		}
		return err
	}

	if msg.Type != "start" {
		h.sendError(conn, "Expected 'start' message with article")
		return fmt.Errorf("first message type %q", msg.Type)
	}
	if strings.TrimSpace(msg.Article) == "" {
		h.sendError(conn, "Article not provided.")
		return fmt.Errorf("empty article")
	}

	sess := live.sess
	sess.Article = msg.Article
	sess.Mode = msg.Mode
	sess.OriginURL = msg.OriginURL
	sess.ProlificID = msg.ProlificID
	sess.State = conversation.StateStreamingInitial

	logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"mode":       sess.Mode,
		"origin":     sess.OriginURL,
		"article":    len(sess.Article),
	}).Info("conversation started")

	h.recorder.SessionInit(ctx, sess.ID, sess.Article, sess.Mode, sess.OriginURL)
	live.started = true

	result := h.analyzer.Analyze(ctx, sess.Article, sess.OriginURL)
	h.recorder.PropagandaAnalysis(ctx, sess.ID, result)

	systemPrompt := ai.BuildSystemPrompt(sess.Mode, sess.Article, result.NormalizedJSON())
	sess.Append(conversation.TextTurn(conversation.RoleSystem, systemPrompt))

	// Hidden bootstrap turn that makes the model open the dialogue. Kept in
	// the turn history but never persisted.
	sess.Append(conversation.TextTurn(conversation.RoleUser, "Please start the conversation."))

	return nil
}

func (h *WebSocketHandler) userLoop(ctx context.Context, conn *websocket.Conn, live *liveSession) {
	sess := live.sess

	for {
		sess.State = conversation.StateAwaitingUserTurn

		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// A frame that fails to decode is a client mistake, not a
			// disconnect. The connection is still usable.
			if isDecodeError(err) {
				h.sendError(conn, "Invalid message format.")
				continue
			}
			h.endSession(ctx, live, disconnectReason(err))
			return
		}

		if msg.Type != "user" {
			h.sendError(conn, "Invalid message type. Expected 'user'.")
			continue
		}
		if len(msg.Content) == 0 {
			h.sendError(conn, "No content provided in user message.")
			continue
		}

		userMessageID := "user_" + uuid.NewString()
		turn, ok := h.buildUserTurn(ctx, conn, sess, &msg, userMessageID)
		if !ok {
			continue
		}

		sess.Append(turn)
		h.recorder.Message(ctx, sess.ID, userMessageID, conversation.RoleUser, turn.Transcript, turn.Timing)

		if h.stall.Evaluate(ctx, sess.Turns) == engagement.Stalled {
			logrus.WithField("session_id", sess.ID).Info("conversation stalled, ending session")
			h.sendEvent(conn, event{Type: "conversation_end", Payload: endPayload{
				Message: "The conversation has ended due to inactivity.",
				Reason:  reasonStalled,
			}})
			h.endSession(ctx, live, reasonStalled)
			return
		}

		sess.State = conversation.StateStreamingTurn
		if err := h.streamAssistantTurn(ctx, conn, live); err != nil {
			h.failSession(ctx, conn, live, err)
			return
		}
	}
}

// buildUserTurn normalizes audio parts, transcribes them, and assembles the
// turn. Returns ok=false when the turn must be dropped (conversion failure).
func (h *WebSocketHandler) buildUserTurn(ctx context.Context, conn *websocket.Conn, sess *conversation.Session, msg *clientMessage, messageID string) (conversation.Turn, bool) {
	transcript := ""

	for i := range msg.Content {
		part := &msg.Content[i]
		switch part.Type {
		case "text":
			if transcript == "" {
				transcript = part.Text
			}
		case "input_audio":
			if part.InputAudio == nil || part.InputAudio.Format != "wav" {
				continue
			}

			normalized, err := h.normalizer.EnsureWAV(ctx, part.InputAudio.Data)
			if err != nil {
				logrus.WithError(err).WithField("session_id", sess.ID).Error("audio conversion failed")
				h.sendError(conn, "Audio conversion failed")
				return conversation.Turn{}, false
			}
			part.InputAudio.Data = normalized

			text, err := h.generator.Transcribe(ctx, normalized)
			if err != nil {
				// The turn still goes through; its transcript stays empty.
				logrus.WithError(err).WithField("session_id", sess.ID).Error("transcription failed")
				continue
			}
			if text != "" {
				transcript = text
				h.sendEvent(conn, event{Type: "user_transcript", Payload: transcriptPayload{
					Text:       text,
					Transcript: text,
					ItemID:     messageID,
				}})
			}
		}
	}

	timing := h.userTiming(sess, msg.Timing)

	return conversation.Turn{
		Role:       conversation.RoleUser,
		Content:    msg.Content,
		Transcript: transcript,
		Timing:     timing,
	}, true
}

// userTiming merges client-reported timing with the server-side response
// clock. The client's own measurement wins when present.
func (h *WebSocketHandler) userTiming(sess *conversation.Session, reported *conversation.Timing) *conversation.Timing {
	if !h.streaming.TimingCapture {
		return reported
	}

	timing := &conversation.Timing{}
	if reported != nil {
		*timing = *reported
	}
	if timing.UserResponseTime == 0 && !sess.LastResponseAt.IsZero() {
		timing.UserResponseTime = time.Since(sess.LastResponseAt).Seconds()
	}
	return timing
}

// streamAssistantTurn runs one generation and plays it back to the client:
// paced text deltas, one audio delta, then the final event. The assistant turn
// is persisted once, after the full transcript is known.
func (h *WebSocketHandler) streamAssistantTurn(ctx context.Context, conn *websocket.Conn, live *liveSession) error {
	sess := live.sess

	result, err := h.generator.Generate(ctx, sess.Turns, h.streaming.ChunkSize)
	if err != nil {
		return fmt.Errorf("assistant generation failed: %w", err)
	}

	delay := time.Duration(h.streaming.DelayMillis) * time.Millisecond
	for _, chunk := range result.TextChunks {
		h.sendEvent(conn, event{Type: "assistant_delta", Payload: deltaPayload{Text: chunk}})
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	h.sendEvent(conn, event{Type: "assistant_delta", Payload: deltaPayload{
		Audio:   result.AudioData,
		AudioID: result.AudioID,
	}})

	responseID := "assistant_" + uuid.NewString()
	timing := &conversation.Timing{ModelGenerationTime: result.GenerationTime}

	if h.streaming.TimingCapture {
		if duration, err := audio.DurationBase64(result.AudioData); err == nil {
			timing.AudioDuration = duration
			sess.LastAudioDuration = duration
		}
	}

	turn := conversation.TextTurn(conversation.RoleAssistant, result.Transcript)
	turn.Timing = timing
	sess.Append(turn)

	sess.LastGenerationTime = result.GenerationTime
	sess.LastResponseAt = time.Now()

	h.recorder.Message(ctx, sess.ID, responseID, conversation.RoleAssistant, result.Transcript, timing)

	h.sendEvent(conn, event{Type: "assistant_final", Payload: finalPayload{
		Text:   result.Transcript,
		ID:     responseID,
		Timing: timing,
	}})

	return nil
}

// failSession handles fatal errors: best-effort client notification, one
// session-end record with the error reason, then teardown.
func (h *WebSocketHandler) failSession(ctx context.Context, conn *websocket.Conn, live *liveSession, cause error) {
	logrus.WithError(cause).WithField("session_id", live.sess.ID).Error("conversation failed")
	h.sendError(conn, cause.Error())
	h.endSession(ctx, live, "error: "+cause.Error())
}

func (h *WebSocketHandler) endSession(ctx context.Context, live *liveSession, reason string) {
	if live.ended || !live.started {
		return
	}
	live.ended = true
	live.sess.State = conversation.StateTerminated

	logrus.WithFields(logrus.Fields{
		"session_id": live.sess.ID,
		"reason":     reason,
	}).Info("conversation ended")

	h.recorder.SessionEnd(ctx, live.sess.ID, reason)
}

func (h *WebSocketHandler) sendEvent(conn *websocket.Conn, evt event) {
	if err := conn.WriteJSON(evt); err != nil {
		logrus.WithError(err).Debug("websocket write failed")
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, message string) {
	h.sendEvent(conn, event{Type: "error", Message: message})
}

// isDecodeError reports whether a ReadJSON failure came from the frame
// payload rather than the transport.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func disconnectReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return reasonNormalDisconnect
	}
	return reasonClientDisconnected
}
