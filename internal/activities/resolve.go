package activities

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/prompts"
)

// Resolve rewrites the latest user message into a standalone query using the
// prior turns for context. An empty return means there is nothing to answer
// and the rest of the pipeline should no-op.
//
// A single-turn conversation is returned verbatim without a model call, and
// any rewrite failure falls back to the unmodified latest user message.
func (a *Activities) Resolve(ctx context.Context, messages []models.Turn) string {
	if len(messages) == 0 {
		return ""
	}
	latest := models.LatestUserMessage(messages)
	if latest == "" {
		return ""
	}
	if len(messages) == 1 {
		return latest
	}

	history := models.FormatHistory(messages[:len(messages)-1])
	user := prompts.Render(a.prompts.Resolver.User, map[string]string{
		"history":       history,
		"current_query": latest,
	})
	out, err := a.fast.Complete(ctx, a.prompts.Resolver.System, user)
	if err != nil {
		a.logger.Warn("Query resolution failed, keeping latest message",
			zap.Error(err))
		metrics.RecordStageDegraded("resolve", "llm_error")
		return latest
	}
	resolved := strings.TrimSpace(out)
	if resolved == "" {
		metrics.RecordStageDegraded("resolve", "empty_response")
		return latest
	}
	a.logger.Debug("Resolved query",
		zap.String("query", resolved),
		zap.Int("history_turns", len(messages)-1))
	return resolved
}
