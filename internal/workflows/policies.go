package workflows

import (
	"context"
	"sync"

	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/streaming"
)

// runFetchersParallel launches all four fetchers concurrently. Each fetcher
// publishes its step event as it starts and no-ops internally when its need
// flag is off, so the join is unconditional. Fetchers only read the shared
// state; results are applied after the join, each to its own field.
func (e *Engine) runFetchersParallel(ctx context.Context, sessionID string, st *models.PipelineState) {
	var (
		wg          sync.WaitGroup
		fundamental map[string]models.FundamentalEntry
		technical   map[string]models.TechnicalEntry
		articles    []models.NewsItem
		docs        []models.DocPassage
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepFetchingFundamental))
		e.runStage(ctx, "fundamental", func(sctx context.Context) {
			fundamental = e.stages.FetchFundamental(sctx, st)
		})
	}()
	go func() {
		defer wg.Done()
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepFetchingTechnical))
		e.runStage(ctx, "technical", func(sctx context.Context) {
			technical = e.stages.FetchTechnical(sctx, st)
		})
	}()
	go func() {
		defer wg.Done()
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepFetchingNews))
		e.runStage(ctx, "news", func(sctx context.Context) {
			articles = e.stages.FetchNews(sctx, st)
		})
	}()
	go func() {
		defer wg.Done()
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepRetrievingDocuments))
		e.runStage(ctx, "documents", func(sctx context.Context) {
			docs = e.stages.FetchDocuments(sctx, st)
		})
	}()
	wg.Wait()

	st.SetFundamental(fundamental)
	st.SetTechnical(technical)
	st.SetNews(articles)
	st.SetDocs(docs)
}

// runFetchersChain visits fetchers in priority order, skipping any whose
// need flag is off. Skipped fetchers never execute and their fields keep
// their empty defaults.
func (e *Engine) runFetchersChain(ctx context.Context, sessionID string, st *models.PipelineState) {
	if st.NeedsFundamental {
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepFetchingFundamental))
		e.runStage(ctx, "fundamental", func(sctx context.Context) {
			st.SetFundamental(e.stages.FetchFundamental(sctx, st))
		})
	}
	if st.NeedsTechnical {
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepFetchingTechnical))
		e.runStage(ctx, "technical", func(sctx context.Context) {
			st.SetTechnical(e.stages.FetchTechnical(sctx, st))
		})
	}
	if st.NeedsNews {
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepFetchingNews))
		e.runStage(ctx, "news", func(sctx context.Context) {
			st.SetNews(e.stages.FetchNews(sctx, st))
		})
	}
	if st.NeedsSecFiling {
		e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepRetrievingDocuments))
		e.runStage(ctx, "documents", func(sctx context.Context) {
			st.SetDocs(e.stages.FetchDocuments(sctx, st))
		})
	}
}
