package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"paperflow/internal/config"
	"paperflow/internal/pipeline"
	"paperflow/internal/quality"
	"paperflow/internal/queue"
	"paperflow/internal/services"
)

// Env is what handlers run against.
type Env struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
}

// RunFunc executes one job and returns its result summary.
type RunFunc func(ctx context.Context, env Env, p Payload) (any, error)

type handler struct {
	schema *jsonschema.Schema
	run    RunFunc
}

// Registry dispatches job kinds to handlers.
type Registry struct {
	handlers map[queue.Kind]handler
}

// NewRegistry builds the table for every supported kind.
func NewRegistry() (*Registry, error) {
	r := &Registry{handlers: make(map[queue.Kind]handler)}
	stageKinds := []struct {
		fill, regen queue.Kind
		stage       pipeline.StageName
	}{
		{queue.KindFetchFill, queue.KindFetchRegen, pipeline.StageFetch},
		{queue.KindParseFill, queue.KindParseRegen, pipeline.StageParse},
		{queue.KindOneLinerFill, queue.KindOneLinerRegen, pipeline.StageOneLiner},
		{queue.KindAnalyzeFill, queue.KindAnalyzeRegen, pipeline.StageAnalyze},
		{queue.KindCaptionFill, queue.KindCaptionRegen, pipeline.StageCaption},
		{queue.KindImagesFill, queue.KindImagesRegen, pipeline.StageImages},
		{queue.KindPackageFill, queue.KindPackageRegen, pipeline.StagePackage},
	}
	stageSchema := objectSchema(nil, scopeProperties, stageProperties)
	for _, sk := range stageKinds {
		if err := r.register(sk.fill, stageSchema, runStage(sk.stage, pipeline.ModeFill)); err != nil {
			return nil, err
		}
		if err := r.register(sk.regen, stageSchema, runStage(sk.stage, pipeline.ModeRegen)); err != nil {
			return nil, err
		}
	}
	if err := r.register(queue.KindEventsBackfill, objectSchema(nil, scopeProperties), runBackfill); err != nil {
		return nil, err
	}
	if err := r.register(queue.KindItemRetryStage, objectSchema([]string{"external_id", "stage"}, retryProperties), runRetry); err != nil {
		return nil, err
	}
	ocrSchema := objectSchema(nil, scopeProperties, ocrFixProperties)
	if err := r.register(queue.KindParseOCRFix, ocrSchema, runOCRFix(false)); err != nil {
		return nil, err
	}
	if err := r.register(queue.KindParseOCRFixRegen, ocrSchema, runOCRFix(true)); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) register(kind queue.Kind, schemaMap map[string]any, run RunFunc) error {
	schema, err := compileSchema(string(kind), schemaMap)
	if err != nil {
		return err
	}
	r.handlers[kind] = handler{schema: schema, run: run}
	return nil
}

// Supported reports whether kind has a handler.
func (r *Registry) Supported(kind queue.Kind) bool {
	_, ok := r.handlers[kind]
	return ok
}

// Decode validates raw against the kind's schema and decodes it.
func (r *Registry) Decode(kind queue.Kind, raw []byte) (Payload, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return Payload{}, fmt.Errorf("%w: %s", queue.ErrUnknownKind, kind)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Payload{}, services.Wrap(services.ErrValidation, "handlers", "decode payload", "", err)
	}
	if err := h.schema.Validate(doc); err != nil {
		return Payload{}, services.Wrap(services.ErrValidation, "handlers", "validate payload", string(kind), err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, services.Wrap(services.ErrValidation, "handlers", "decode payload", string(kind), err)
	}
	return p, nil
}

// Execute validates the payload, runs the kind's handler and returns the
// JSON-encoded result summary.
func (r *Registry) Execute(ctx context.Context, env Env, kind queue.Kind, raw []byte) (json.RawMessage, error) {
	p, err := r.Decode(kind, raw)
	if err != nil {
		return nil, err
	}
	result, err := r.handlers[kind].run(ctx, env, p)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return encoded, nil
}

func runStage(stage pipeline.StageName, mode pipeline.Mode) RunFunc {
	return func(ctx context.Context, env Env, p Payload) (any, error) {
		return env.Pipeline.Run(ctx, pipeline.Request{
			Stage:       stage,
			Mode:        mode,
			Scope:       p.ItemScope(),
			Langs:       p.Langs(),
			MaxItems:    p.MaxItems,
			PerItem:     p.PerItem,
			MaxTasks:    p.MaxTasks,
			Concurrency: p.Concurrency,
		})
	}
}

func runBackfill(ctx context.Context, env Env, p Payload) (any, error) {
	return env.Pipeline.Backfill(ctx, p.ItemScope())
}

func runRetry(ctx context.Context, env Env, p Payload) (any, error) {
	return env.Pipeline.RetryStage(ctx, p.Source, p.ExternalID, p.Stage)
}

func runOCRFix(overwrite bool) RunFunc {
	return func(ctx context.Context, env Env, p Payload) (any, error) {
		req := pipeline.OCRFixRequest{
			Scope:        p.ItemScope(),
			Overwrite:    overwrite,
			MaxItems:     p.MaxItems,
			RegenPackage: p.RegenPackage,
			Langs:        p.Langs(),
			Concurrency:  p.Concurrency,
		}
		if p.QMarksThreshold != nil || p.QMarksPerKThreshold != nil {
			gate := quality.FromConfig(env.Config.Quality)
			if p.QMarksThreshold != nil {
				gate.QMarks = *p.QMarksThreshold
			}
			if p.QMarksPerKThreshold != nil {
				gate.QMarksPerK = *p.QMarksPerKThreshold
			}
			req.Thresholds = &gate
		}
		return env.Pipeline.OCRFix(ctx, req)
	}
}
