package dialoguelog

import (
	"context"

	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
	"github.com/apollolytics/dialogue-backend/internal/model/propaganda"
)

// NopRecorder discards every event. Used when no store is configured or the
// configured store is unreachable at startup.
type NopRecorder struct{}

func (NopRecorder) SessionInit(context.Context, string, string, string, string) {}

func (NopRecorder) PropagandaAnalysis(context.Context, string, propaganda.Result) {}

func (NopRecorder) Message(context.Context, string, string, string, string, *conversation.Timing) {}

func (NopRecorder) SessionEnd(context.Context, string, string) {}
