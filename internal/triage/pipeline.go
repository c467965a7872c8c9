package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
	"github.com/tidwall/gjson"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage")

// PipelineConfig carries the tunables for a pipeline instance.
type PipelineConfig struct {
	// TIConcurrency bounds concurrent reputation lookups in ti_matching.
	// Zero means DefaultTIConcurrency.
	TIConcurrency int
}

// PipelineHooks lets the caller observe pipeline events without coupling the
// executor to a metrics backend.
type PipelineHooks struct {
	OnStageFailure     func(stage string)
	OnReputationLookup func(kind, outcome string, seconds float64)
	OnComplete         func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished pipeline run.
type CompleteEvent struct {
	Verdict      string // final verdict or "deferred"
	Conclusion   string // analysis conclusion or "none"
	Seconds      float64
	StageErrors  int
	TotalChecked int
}

// Pipeline executes the fixed triage stage order against one alert at a
// time. Stage failures are absorbed (recorded, fields left nil); only caller
// cancellation or an unusable input surfaces as an error from Run.
type Pipeline struct {
	stages []Stage
	logger log.Logger
	hooks  PipelineHooks
}

// NewPipeline wires the fixed stage list with its collaborators. The stage
// order is the pipeline's contract; nothing reorders it at runtime.
func NewPipeline(reasoner Reasoner, reputation ReputationClient, cfg PipelineConfig, logger log.Logger, hooks PipelineHooks) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		stages: []Stage{
			parseStage{},
			classifyStage{reasoner: reasoner},
			attackMapStage{reasoner: reasoner},
			extractStage{reasoner: reasoner},
			tiMatchStage{
				client:      reputation,
				concurrency: cfg.TIConcurrency,
				logger:      logger,
				hooks:       hooks,
			},
			analyzeStage{reasoner: reasoner},
		},
		logger: logger,
		hooks:  hooks,
	}
}

// Run executes the pipeline for one raw alert and assembles the Result from
// whatever fields are populated. Missing sections surface as nulls plus an
// attributed entry in Errors, never as a Run error; Run fails only when the
// input is not a JSON object or the invocation is cancelled.
func (p *Pipeline) Run(ctx context.Context, raw json.RawMessage) (*Result, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("raw alert is not a JSON object")
	}

	st := &State{
		RawAlert: raw,
		StartAt:  time.Now(),
	}

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("triage cancelled before %s: %w", stage.Name(), err)
		}

		sctx, span := tracer.Start(ctx, "triage."+stage.Name())
		upd, err := stage.Execute(sctx, st)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			// Cancellation is invocation-fatal, not a stage failure.
			if cerr := ctx.Err(); cerr != nil {
				return nil, fmt.Errorf("triage cancelled during %s: %w", stage.Name(), cerr)
			}

			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", stage.Name(), err))
			if p.hooks.OnStageFailure != nil {
				p.hooks.OnStageFailure(stage.Name())
			}
			p.logger.Warn(ctx, "triage stage failed", "stage", stage.Name(), "error", err)
			continue
		}
		span.SetAttributes(attribute.String("warden.stage", stage.Name()))
		span.End()

		st.apply(upd)
	}

	// finalize: elapsed time is the last field written.
	elapsed := time.Since(st.StartAt)

	result := &Result{
		Status:           StatusComplete,
		BaseInfo:         st.BaseInfo,
		Classification:   st.Classification,
		AttackMapping:    st.AttackMapping,
		Entities:         st.Entities,
		TIMatching:       st.TIMatching,
		Verdict:          st.Verdict,
		Analysis:         st.Analysis,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Errors:           st.Errors,
	}

	if p.hooks.OnComplete != nil {
		p.hooks.OnComplete(completeEvent(result, elapsed))
	}

	p.logger.Info(ctx, "triage pipeline complete",
		"duration_ms", result.ProcessingTimeMs,
		"stage_errors", len(result.Errors),
		"verdict", verdictLabel(result.Verdict),
	)

	return result, nil
}

func completeEvent(r *Result, elapsed time.Duration) *CompleteEvent {
	e := &CompleteEvent{
		Verdict:     verdictLabel(r.Verdict),
		Conclusion:  "none",
		Seconds:     elapsed.Seconds(),
		StageErrors: len(r.Errors),
	}
	if r.Analysis != nil {
		e.Conclusion = string(r.Analysis.Conclusion)
	}
	if r.TIMatching != nil {
		e.TotalChecked = r.TIMatching.TotalChecked
	}
	return e
}

func verdictLabel(v *Verdict) string {
	if v == nil {
		return "deferred"
	}
	return string(*v)
}
