package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/config"
	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Service wraps the upstream provider's combined text+audio generation and the
// speech-to-text endpoint. The generation call is blocking; it runs on a shared
// worker pool so connection goroutines stay cooperative while it is in flight.
type Service struct {
	client     *openai.Client
	httpClient *http.Client
	baseURL    string
	cfg        config.AIConfig
	pool       *ants.Pool
}

// GenerationResult is one complete assistant turn as returned by the provider.
// The transcript arrives whole; TextChunks is the presentation-layer slicing.
type GenerationResult struct {
	Transcript     string
	TextChunks     []string
	AudioData      string // base64 WAV
	AudioID        string
	GenerationTime float64 // seconds
}

// audioCompletionRequest is the /chat/completions body for the audio output
// modality. The SDK's ChatCompletionRequest stops at text and vision output,
// so the modality fields are spelled out here; message marshalling, including
// input_audio content parts, still goes through the SDK's types.
type audioCompletionRequest struct {
	Model      string                         `json:"model"`
	Modalities []string                       `json:"modalities"`
	Audio      audioOutputSpec                `json:"audio"`
	Messages   []openai.ChatCompletionMessage `json:"messages"`
}

type audioOutputSpec struct {
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

type audioCompletionResponse struct {
	ID      string                  `json:"id"`
	Choices []audioCompletionChoice `json:"choices"`
}

type audioCompletionChoice struct {
	Message struct {
		Content string          `json:"content"`
		Audio   *assistantAudio `json:"audio"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type assistantAudio struct {
	ID         string `json:"id"`
	Data       string `json:"data"` // base64 WAV
	Transcript string `json:"transcript"`
	ExpiresAt  int64  `json:"expires_at"`
}

// NewService creates the AI service and its worker pool.
func NewService(cfg config.AIConfig) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	baseURL := defaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
		clientCfg.BaseURL = baseURL
	}

	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation worker pool: %w", err)
	}

	return &Service{
		client:     openai.NewClientWithConfig(clientCfg),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		cfg:        cfg,
		pool:       pool,
	}, nil
}

// Close releases the worker pool.
func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Generate runs one blocking completion over the full turn history on the
// worker pool and waits for its result. A caller whose context is cancelled
// stops waiting, but the dispatched call runs to completion regardless; the
// generation cost is already sunk.
func (s *Service) Generate(ctx context.Context, turns []conversation.Turn, chunkSize int) (*GenerationResult, error) {
	messages := buildMessages(turns)

	type outcome struct {
		result *GenerationResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	// Detach the upstream call from the connection's lifetime.
	callCtx := context.WithoutCancel(ctx)

	if err := s.pool.Submit(func() {
		result, err := s.complete(callCtx, messages, chunkSize)
		resultCh <- outcome{result: result, err: err}
	}); err != nil {
		return nil, fmt.Errorf("failed to dispatch generation: %w", err)
	}

	select {
	case out := <-resultCh:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) complete(ctx context.Context, messages []openai.ChatCompletionMessage, chunkSize int) (*GenerationResult, error) {
	logrus.Info("[ai] generating assistant response")
	start := time.Now()

	body, err := json.Marshal(audioCompletionRequest{
		Model:      s.cfg.AudioModel,
		Modalities: []string{"text", "audio"},
		Audio:      audioOutputSpec{Voice: s.cfg.Voice, Format: "wav"},
		Messages:   messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("chat completion failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var completion audioCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode chat completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	audio := completion.Choices[0].Message.Audio
	if audio == nil {
		return nil, fmt.Errorf("chat completion returned no audio payload")
	}

	generationTime := time.Since(start).Seconds()
	logrus.Infof("[ai] model response generated in %.2fs, transcript length %d", generationTime, len(audio.Transcript))

	return &GenerationResult{
		Transcript:     audio.Transcript,
		TextChunks:     chunkTranscript(audio.Transcript, chunkSize),
		AudioData:      audio.Data,
		AudioID:        audio.ID,
		GenerationTime: generationTime,
	}, nil
}

// Transcribe converts a base64 WAV clip to text via the speech-to-text model.
func (s *Service) Transcribe(ctx context.Context, wavBase64 string) (string, error) {
	wavBytes, err := base64.StdEncoding.DecodeString(wavBase64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 audio: %w", err)
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.TranscribeModel,
		Reader:   bytes.NewReader(wavBytes),
		FilePath: "audio.wav",
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	return resp.Text, nil
}

// buildMessages maps session turns onto the provider's message shape. Audio
// parts are forwarded only for user turns; assistant turns travel as their
// transcript text.
func buildMessages(turns []conversation.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: turn.Transcript,
			})
		case conversation.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Transcript,
			})
		case conversation.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: buildUserParts(turn),
			})
		}
	}
	return messages
}

func buildUserParts(turn conversation.Turn) []openai.ChatMessagePart {
	parts := make([]openai.ChatMessagePart, 0, len(turn.Content))
	for _, part := range turn.Content {
		switch part.Type {
		case "text":
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case "input_audio":
			if part.InputAudio == nil {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeInputAudio,
				InputAudio: &openai.ChatMessageInputAudio{
					Data:   part.InputAudio.Data,
					Format: part.InputAudio.Format,
				},
			})
		}
	}
	return parts
}

// chunkTranscript slices a transcript into fixed-size rune chunks. Generation
// is not incremental upstream; this pacing is purely presentational.
func chunkTranscript(transcript string, size int) []string {
	if transcript == "" {
		return nil
	}
	if size < 1 {
		size = 20
	}

	runes := []rune(transcript)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
