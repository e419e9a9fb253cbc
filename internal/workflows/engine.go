// Package workflows drives a pipeline run from inbound turn to final
// payload: resolve, classify, fetch evidence under the configured policy,
// synthesize, persist. Step events are published to the session's stream as
// checkpoints pass.
package workflows

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/session"
	"github.com/finsight-lab/finsight/internal/streaming"
	"github.com/finsight-lab/finsight/internal/tracing"
	"github.com/finsight-lab/finsight/internal/usage"
)

// Orchestration policies. Parallel runs every fetcher concurrently and lets
// each no-op internally; chain visits need-flagged fetchers in a fixed
// priority order.
const (
	PolicyParallel = "parallel"
	PolicyChain    = "chain"
)

// Stages is the pipeline stage set. Implementations resolve their own
// faults and return degraded outputs instead of errors.
type Stages interface {
	Resolve(ctx context.Context, messages []models.Turn) string
	Classify(ctx context.Context, query string) models.Classification
	FetchFundamental(ctx context.Context, st *models.PipelineState) map[string]models.FundamentalEntry
	FetchTechnical(ctx context.Context, st *models.PipelineState) map[string]models.TechnicalEntry
	FetchNews(ctx context.Context, st *models.PipelineState) []models.NewsItem
	FetchDocuments(ctx context.Context, st *models.PipelineState) []models.DocPassage
	Synthesize(ctx context.Context, st *models.PipelineState) string
}

// Engine owns pipeline execution for all sessions.
type Engine struct {
	stages   Stages
	sessions *session.Manager
	streams  *streaming.Manager
	cfg      atomic.Pointer[config.PipelineConfig]
	logger   *zap.Logger
}

// NewEngine builds an engine running the given policy.
func NewEngine(cfg config.PipelineConfig, stages Stages, sessions *session.Manager, streams *streaming.Manager, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		stages:   stages,
		sessions: sessions,
		streams:  streams,
		logger:   logger,
	}
	e.ApplyConfig(cfg)
	return e
}

// ApplyConfig installs the orchestration policy and stage timeout. Safe to
// call while runs are in flight: a run fixes its policy at the start, the
// timeout applies to each stage as it begins. Unknown policy names fall
// back to parallel.
func (e *Engine) ApplyConfig(cfg config.PipelineConfig) {
	if cfg.Policy != PolicyChain {
		cfg.Policy = PolicyParallel
	}
	e.cfg.Store(&cfg)
}

// Policy returns the active orchestration policy.
func (e *Engine) Policy() string { return e.cfg.Load().Policy }

// ProcessTurn runs one full pipeline pass for a session and returns the
// final payload. sessionID must be non-empty; the caller allocates handles
// for first-time sessions.
//
// The pipeline itself cannot fail: every stage degrades internally, so the
// returned error only ever reports session-store access problems. A run
// always ends with a done (or error) event on the session's stream.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, message string) (models.FinalPayload, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.process_turn")
	defer span.End()

	start := time.Now()
	policy := e.cfg.Load().Policy
	logger := e.logger.With(zap.String("session_id", sessionID))

	sess, created, err := e.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		e.streams.Publish(sessionID, streaming.ErrorEvent("session unavailable"))
		return models.FinalPayload{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if created {
		// A fresh handle may shadow an expired conversation; its stream
		// history must not replay into the new one.
		e.streams.Forget(sessionID)
		logger.Info("Session started")
	}

	turns := make([]models.Turn, 0, len(sess.State.Messages)+2)
	turns = append(turns, sess.State.Messages...)
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: message})
	st := models.NewPipelineState(turns)

	meter := usage.NewMeter()
	ctx = usage.With(ctx, meter)

	e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepAnalyzingQuery))
	e.runStage(ctx, "resolve", func(sctx context.Context) {
		st.ApplyResolution(e.stages.Resolve(sctx, st.Messages))
	})
	e.runStage(ctx, "classify", func(sctx context.Context) {
		st.ApplyClassification(e.stages.Classify(sctx, st.Query))
	})
	e.streams.Publish(sessionID, streaming.DataEvent(st.Tickers))

	if policy == PolicyChain {
		e.runFetchersChain(ctx, sessionID, st)
	} else {
		e.runFetchersParallel(ctx, sessionID, st)
	}

	e.streams.Publish(sessionID, streaming.StatusEvent(streaming.StepGeneratingAnswer))
	e.runStage(ctx, "synthesize", func(sctx context.Context) {
		st.SetAnswer(e.stages.Synthesize(sctx, st))
	})

	payload := st.Payload()
	st.Messages = append(st.Messages, models.Turn{Role: models.RoleAssistant, Content: st.Answer})
	sess.State = *st
	sess.UpdateTokenUsage(meter.Totals())
	e.sessions.Extend(sess)

	status := "ok"
	if err := e.sessions.Save(ctx, sess); err != nil {
		// The answer is already computed; losing one history write is not
		// worth failing the turn over.
		logger.Error("Session save failed", zap.Error(err))
		status = "session_error"
	}
	metrics.RecordPipelineRun(policy, status, time.Since(start).Seconds())
	logger.Info("Pipeline run complete",
		zap.String("policy", policy),
		zap.Bool("is_financial", st.IsFinancial),
		zap.Strings("tickers", st.Tickers),
		zap.Duration("duration", time.Since(start)))

	e.streams.Publish(sessionID, streaming.DoneEvent(payload))
	return payload, nil
}

// runStage times one stage under its own span, bounding it by the
// configured stage timeout.
func (e *Engine) runStage(ctx context.Context, name string, fn func(context.Context)) {
	sctx, span := tracing.StartSpan(ctx, "pipeline."+name)
	defer span.End()
	if t := e.cfg.Load().StageTimeout; t > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, t)
		defer cancel()
	}
	started := time.Now()
	fn(sctx)
	metrics.RecordStage(name, time.Since(started).Seconds())
}
