package stall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/analysis/engagement"
	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
)

// Config controls the stall classifier.
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Service decides whether a dialogue has stalled. A compiled LLM chain does
// the judging; deterministic rules from the engagement package bound it on
// both sides, so obvious cases never reach the model and classifier failures
// never end a session on their own.
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func([]conversation.Turn) int
	historyLimit int
}

// NewService creates the stall classifier. chatModel may reuse an existing
// model instance; passing nil disables the LLM path.
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 20
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     engagement.Analyze,
		historyLimit: historyLimit,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(stallSystemPrompt),
		schema.UserMessage(stallUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile stall classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled reports whether the LLM classifier path is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Evaluate returns engagement.Stalled when the dialogue should end and
// engagement.Active otherwise. Histories still in setup are always active,
// and a run of disinterested user turns is stalled without a model call.
func (s *Service) Evaluate(ctx context.Context, turns []conversation.Turn) int {
	if len(turns) <= 2 {
		return engagement.Active
	}

	if s.fallback(turns) == engagement.Stalled {
		return engagement.Stalled
	}

	if !s.Enabled() {
		return engagement.Active
	}

	input := map[string]any{
		"conversation": formatHistory(turns, s.historyLimit),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		logrus.WithError(err).Warn("stall classifier invoke failed, treating as active")
		return engagement.Active
	}
	if msg == nil {
		return engagement.Active
	}

	verdict, err := parseVerdict(msg.Content)
	if err != nil {
		logrus.WithError(err).Warn("stall classifier output unparseable, treating as active")
		return engagement.Active
	}

	return verdict
}

func parseVerdict(content string) (int, error) {
	val, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil {
		return engagement.Active, err
	}
	switch val {
	case engagement.Active, engagement.Stalled:
		return val, nil
	default:
		return engagement.Active, fmt.Errorf("unexpected verdict %d", val)
	}
}

// formatHistory renders the most recent turns as "ROLE: content" lines.
func formatHistory(turns []conversation.Turn, limit int) string {
	if limit < 1 {
		limit = 1
	}
	start := len(turns) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for _, turn := range turns[start:] {
		text := strings.TrimSpace(turn.Transcript)
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(strings.ToUpper(turn.Role))
		builder.WriteString(": ")
		builder.WriteString(text)
	}
	return builder.String()
}

const stallSystemPrompt = `You are a conversation analyst evaluating a discussion about propaganda in news media. Your task is to determine if the conversation is stalled (1) or active (0).

A conversation is considered STALLED (return 1) if:
1. User repeatedly expresses disinterest or refuses to engage (e.g., multiple "I don't care" responses)
2. No meaningful exchange of ideas or information
3. Clear disengagement from the topic
4. No progression in understanding or analysis

A conversation is considered ACTIVE (return 0) if ANY of these are true:
1. Initial setup of the conversation (first few messages)
2. Discussion of propaganda techniques or media analysis
3. User shows interest
4. Natural flow of conversation with engagement
5. User is learning or gaining new insights

Return ONLY 0 or 1 as your answer.`

const stallUserPrompt = "Conversation to analyze:\n{conversation}"
