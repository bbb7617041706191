package conversation

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/config"
	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
	"github.com/apollolytics/dialogue-backend/internal/service/ai"
	"github.com/apollolytics/dialogue-backend/internal/service/audio"
	"github.com/apollolytics/dialogue-backend/internal/service/session"
	"github.com/apollolytics/dialogue-backend/internal/store/dialoguelog"
	"github.com/apollolytics/dialogue-backend/pkg/utils"
)

const sessionCookieName = "session_id"

// HTTPHandler serves the request/response variant of the dialogue flow.
// Session identity rides in a cookie instead of a persistent socket.
type HTTPHandler struct {
	sessions   session.Store
	generator  Generator
	analyzer   Analyzer
	normalizer *audio.Normalizer
	recorder   dialoguelog.Recorder
	logReader  dialoguelog.Reader
	streaming  config.StreamingConfig
}

// NewHTTPHandler wires the cookie-session endpoints. logReader may be nil when
// no persistent log store is configured; the export endpoint is then absent.
func NewHTTPHandler(
	sessions session.Store,
	generator Generator,
	analyzer Analyzer,
	normalizer *audio.Normalizer,
	recorder dialoguelog.Recorder,
	logReader dialoguelog.Reader,
	streaming config.StreamingConfig,
) *HTTPHandler {
	return &HTTPHandler{
		sessions:   sessions,
		generator:  generator,
		analyzer:   analyzer,
		normalizer: normalizer,
		recorder:   recorder,
		logReader:  logReader,
		streaming:  streaming,
	}
}

// RegisterRoutes registers the HTTP dialogue endpoints.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Post("/conversation/start", h.handleStart)
	r.Post("/conversation/respond", h.handleRespond)
	r.Post("/analyze_propaganda", h.handleAnalyzePropaganda)
	r.Post("/continue_conversation", h.handleContinue)
	if h.logReader != nil {
		r.Get("/sessions/{sessionID}/events", h.handleSessionEvents)
	}
}

type startRequest struct {
	Article   string `json:"article"`
	Mode      string `json:"mode,omitempty"`
	OriginURL string `json:"origin_url,omitempty"`
}

type respondRequest struct {
	Message string `json:"message"`
}

type analyzeRequest struct {
	ArticleText  string `json:"article_text"`
	DialogueType string `json:"dialogue_type,omitempty"`
}

type continueRequest struct {
	UserInput string `json:"user_input"`
}

type turnView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type dialogueResponse struct {
	Conversation []turnView `json:"conversation"`
	Audio        string     `json:"audio,omitempty"`
	AudioID      string     `json:"audio_id,omitempty"`
}

func (h *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Article) == "" {
		utils.RespondError(w, http.StatusBadRequest, "Article not provided.")
		return
	}

	sess := h.newCookieSession(w)
	sess.Lock()
	defer sess.Unlock()
	sess.Article = req.Article
	sess.Mode = req.Mode
	sess.OriginURL = req.OriginURL

	h.recorder.SessionInit(r.Context(), sess.ID, sess.Article, sess.Mode, sess.OriginURL)

	result := h.analyzer.Analyze(r.Context(), sess.Article, sess.OriginURL)
	h.recorder.PropagandaAnalysis(r.Context(), sess.ID, result)

	systemPrompt := ai.BuildSystemPrompt(sess.Mode, sess.Article, result.NormalizedJSON())
	sess.Append(conversation.TextTurn(conversation.RoleSystem, systemPrompt))
	sess.Append(conversation.TextTurn(conversation.RoleUser, "Please start the conversation."))

	h.completeTurn(w, r, sess)
}

func (h *HTTPHandler) handleRespond(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.cookieSession(w, r)
	if !ok {
		return
	}
	sess.Lock()
	defer sess.Unlock()

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "No audio message provided.")
		return
	}

	normalized, err := h.normalizer.EnsureWAV(r.Context(), req.Message)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Audio conversion failed")
		return
	}

	transcript, err := h.generator.Transcribe(r.Context(), normalized)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sess.ID).Error("transcription failed")
		transcript = ""
	}

	turn := conversation.Turn{
		Role: conversation.RoleUser,
		Content: []conversation.ContentPart{{
			Type:       "input_audio",
			InputAudio: &conversation.InputAudio{Data: normalized, Format: "wav"},
		}},
		Transcript: transcript,
	}
	sess.Append(turn)
	h.recorder.Message(r.Context(), sess.ID, "user_"+uuid.NewString(), conversation.RoleUser, transcript, nil)

	h.completeTurn(w, r, sess)
}

func (h *HTTPHandler) handleAnalyzePropaganda(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ArticleText) == "" {
		utils.RespondError(w, http.StatusBadRequest, "Article text cannot be empty.")
		return
	}

	sess := h.newCookieSession(w)
	sess.Lock()
	defer sess.Unlock()
	sess.Article = req.ArticleText
	sess.Mode = req.DialogueType

	h.recorder.SessionInit(r.Context(), sess.ID, sess.Article, sess.Mode, "")

	result := h.analyzer.Analyze(r.Context(), sess.Article, "")
	h.recorder.PropagandaAnalysis(r.Context(), sess.ID, result)

	systemPrompt := ai.BuildSystemPrompt(sess.Mode, sess.Article, result.NormalizedJSON())
	sess.Append(conversation.TextTurn(conversation.RoleSystem, systemPrompt))
	sess.Append(conversation.TextTurn(conversation.RoleUser, "Please start the conversation."))

	generated, err := h.generator.Generate(r.Context(), sess.Turns, h.streaming.ChunkSize)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sess.ID).Error("initial generation failed")
		utils.RespondError(w, http.StatusBadGateway, "assistant generation failed")
		return
	}
	h.appendAssistantTurn(r, sess, generated)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"detected_propaganda": result.Data,
		"bot_message":         generated.Transcript,
	})
}

func (h *HTTPHandler) handleContinue(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.cookieSession(w, r)
	if !ok {
		return
	}
	sess.Lock()
	defer sess.Unlock()

	var req continueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		utils.RespondError(w, http.StatusBadRequest, "User input cannot be empty.")
		return
	}

	sess.Append(conversation.TextTurn(conversation.RoleUser, req.UserInput))
	h.recorder.Message(r.Context(), sess.ID, "user_"+uuid.NewString(), conversation.RoleUser, req.UserInput, nil)

	generated, err := h.generator.Generate(r.Context(), sess.Turns, h.streaming.ChunkSize)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sess.ID).Error("generation failed")
		utils.RespondError(w, http.StatusBadGateway, "assistant generation failed")
		return
	}
	h.appendAssistantTurn(r, sess, generated)

	utils.RespondJSON(w, http.StatusOK, map[string]string{"bot_message": generated.Transcript})
}

// handleSessionEvents exports a session's persisted event log.
func (h *HTTPHandler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	events, err := h.logReader.Events(r.Context(), sessionID)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("dialogue log read failed")
		utils.RespondError(w, http.StatusBadGateway, "failed to read session events")
		return
	}
	if len(events) == 0 {
		utils.RespondError(w, http.StatusNotFound, "Session not found.")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     events,
	})
}

// completeTurn generates the next assistant turn and returns the updated
// conversation plus the audio payload.
func (h *HTTPHandler) completeTurn(w http.ResponseWriter, r *http.Request, sess *conversation.Session) {
	generated, err := h.generator.Generate(r.Context(), sess.Turns, h.streaming.ChunkSize)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sess.ID).Error("generation failed")
		utils.RespondError(w, http.StatusBadGateway, "assistant generation failed")
		return
	}
	h.appendAssistantTurn(r, sess, generated)

	utils.RespondJSON(w, http.StatusOK, dialogueResponse{
		Conversation: conversationView(sess.Turns),
		Audio:        generated.AudioData,
		AudioID:      generated.AudioID,
	})
}

func (h *HTTPHandler) appendAssistantTurn(r *http.Request, sess *conversation.Session, generated *ai.GenerationResult) {
	turn := conversation.TextTurn(conversation.RoleAssistant, generated.Transcript)
	turn.Timing = &conversation.Timing{ModelGenerationTime: generated.GenerationTime}
	sess.Append(turn)

	h.recorder.Message(r.Context(), sess.ID, "assistant_"+uuid.NewString(), conversation.RoleAssistant, generated.Transcript, turn.Timing)
}

// conversationView flattens the turn history for HTTP responses. Audio parts
// are represented by their transcript; raw payloads never leave the session.
func conversationView(turns []conversation.Turn) []turnView {
	views := make([]turnView, 0, len(turns))
	for _, turn := range turns {
		views = append(views, turnView{Role: turn.Role, Content: turn.Transcript})
	}
	return views
}

func (h *HTTPHandler) newCookieSession(w http.ResponseWriter) *conversation.Session {
	sess := h.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		Path:     "/",
	})
	return sess
}

func (h *HTTPHandler) cookieSession(w http.ResponseWriter, r *http.Request) (*conversation.Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "Session not found.")
		return nil, false
	}

	sess, err := h.sessions.Get(cookie.Value)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "Session not found.")
		return nil, false
	}
	return sess, true
}
