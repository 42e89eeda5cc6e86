package topology

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/capclaw/internal/prompts"
	"github.com/nextlevelbuilder/capclaw/internal/providers"
)

// ConfigFilename is the download name for a finished configuration.
const ConfigFilename = "recommended_config.md"

// Model knobs for each stage. The initial OpenAI pass is budgeted
// tighter than the review pass; Gemini temperatures rise from the
// conservative first read to the creative merge.
const (
	initialMaxTokens  = 2000
	reviewMaxTokens   = 3000
	initialGoogleTemp = 0.4
	synthesisTemp     = 0.7
)

// Stage identifies one pipeline step.
type Stage string

const (
	StageInitialOpenAI  Stage = "initial_openai"
	StageInitialGoogle  Stage = "initial_google"
	StageReviewByGoogle Stage = "review_by_google" // audits the OpenAI draft
	StageReviewByOpenAI Stage = "review_by_openai" // audits the Gemini draft
	StageSynthesis      Stage = "synthesis"
)

// Stage event statuses.
const (
	StatusStarted = "started"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// StageEvent reports pipeline progress.
type StageEvent struct {
	Stage    Stage         `json:"stage"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// EventSink receives stage events. Sinks must not block.
type EventSink func(StageEvent)

// Result carries the final configuration and every intermediate.
type Result struct {
	Final         string `json:"final"`
	InitialOpenAI string `json:"initial_openai"`
	InitialGoogle string `json:"initial_google"`
	// RevisedOpenAI is the OpenAI draft after the Gemini audit;
	// RevisedGoogle is the Gemini draft after the OpenAI audit.
	RevisedOpenAI string `json:"revised_openai"`
	RevisedGoogle string `json:"revised_google"`
}

// PipelineOptions wires a Pipeline.
type PipelineOptions struct {
	OpenAI  providers.Client
	Google  providers.Client
	Prompts *prompts.Library

	// OpenAIVisionModel drafts from the image; OpenAIReviewModel audits
	// and explains. GoogleModel does everything on the Gemini side.
	OpenAIVisionModel string
	OpenAIReviewModel string
	GoogleModel       string

	Sink   EventSink
	Logger *slog.Logger
}

// Pipeline runs the staged diagram-to-config flow.
type Pipeline struct {
	openai providers.Client
	google providers.Client
	lib    *prompts.Library

	visionModel string
	reviewModel string
	googleModel string

	sink   EventSink
	log    *slog.Logger
	tracer trace.Tracer
}

// NewPipeline creates a Pipeline from opts. Both provider clients are
// required; model names fall back to the production defaults.
func NewPipeline(opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		openai:      opts.OpenAI,
		google:      opts.Google,
		lib:         opts.Prompts,
		visionModel: opts.OpenAIVisionModel,
		reviewModel: opts.OpenAIReviewModel,
		googleModel: opts.GoogleModel,
		sink:        opts.Sink,
		log:         opts.Logger,
		tracer:      otel.Tracer("capclaw/topology"),
	}
	if p.visionModel == "" {
		p.visionModel = "gpt-4.1-mini"
	}
	if p.reviewModel == "" {
		p.reviewModel = "gpt-4o"
	}
	if p.googleModel == "" {
		p.googleModel = "gemini-2.5-pro"
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// WithSink returns a copy of the pipeline that reports stage events to
// sink instead of the configured one. Used to fan events out per job.
func (p *Pipeline) WithSink(sink EventSink) *Pipeline {
	cp := *p
	cp.sink = sink
	return &cp
}

// Generate runs the full pipeline for one diagram and goal. Initial
// drafts run in parallel, then the cross-reviews, then synthesis with
// the diagram back in view. Any stage failure aborts the run.
func (p *Pipeline) Generate(ctx context.Context, diagram *Diagram, goal string) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "topology.generate", trace.WithAttributes(
		attribute.Int("capclaw.diagram_width", diagram.Width),
		attribute.Int("capclaw.diagram_height", diagram.Height),
	))
	defer span.End()

	start := time.Now()
	res := &Result{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := p.runStage(gctx, StageInitialOpenAI, func(ctx context.Context) (string, error) {
			r, err := p.lib.Render("topology/generate_openai", map[string]string{"Goal": goal})
			if err != nil {
				return "", err
			}
			return p.chat(ctx, p.openai, providers.ChatRequest{
				Model:     p.visionModel,
				MaxTokens: initialMaxTokens,
				Messages:  []providers.Message{providers.UserImage(r.Text, diagram.MIME, diagram.Data)},
			})
		})
		res.InitialOpenAI = out
		return err
	})
	g.Go(func() error {
		out, err := p.runStage(gctx, StageInitialGoogle, func(ctx context.Context) (string, error) {
			r, err := p.lib.Render("topology/generate_google", map[string]string{"Goal": goal})
			if err != nil {
				return "", err
			}
			return p.chat(ctx, p.google, providers.ChatRequest{
				Model:       p.googleModel,
				Temperature: providers.Temp(initialGoogleTemp),
				Messages:    []providers.Message{providers.UserImage(r.Text, diagram.MIME, diagram.Data)},
			})
		})
		res.InitialGoogle = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, spanErr(span, err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := p.runStage(gctx, StageReviewByGoogle, func(ctx context.Context) (string, error) {
			r, err := p.lib.Render("topology/review", map[string]string{
				"Source": "OpenAI",
				"Config": res.InitialOpenAI,
			})
			if err != nil {
				return "", err
			}
			return p.chat(ctx, p.google, providers.ChatRequest{
				Model:    p.googleModel,
				System:   r.System,
				Messages: []providers.Message{providers.Text(providers.RoleUser, r.Text)},
			})
		})
		res.RevisedOpenAI = out
		return err
	})
	g.Go(func() error {
		out, err := p.runStage(gctx, StageReviewByOpenAI, func(ctx context.Context) (string, error) {
			r, err := p.lib.Render("topology/review", map[string]string{
				"Source": "Google Gemini",
				"Config": res.InitialGoogle,
			})
			if err != nil {
				return "", err
			}
			return p.chat(ctx, p.openai, providers.ChatRequest{
				Model:     p.reviewModel,
				System:    r.System,
				MaxTokens: reviewMaxTokens,
				Messages:  []providers.Message{providers.Text(providers.RoleUser, r.Text)},
			})
		})
		res.RevisedGoogle = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, spanErr(span, err)
	}

	final, err := p.runStage(ctx, StageSynthesis, func(ctx context.Context) (string, error) {
		r, err := p.lib.Render("topology/synthesize", map[string]string{
			"Goal":   goal,
			"OpenAI": res.RevisedOpenAI,
			"Google": res.RevisedGoogle,
		})
		if err != nil {
			return "", err
		}
		return p.chat(ctx, p.google, providers.ChatRequest{
			Model:       p.googleModel,
			Temperature: providers.Temp(synthesisTemp),
			Messages:    []providers.Message{providers.UserImage(r.Text, diagram.MIME, diagram.Data)},
		})
	})
	if err != nil {
		return nil, spanErr(span, err)
	}
	res.Final = final

	p.log.Info("topology pipeline finished",
		"final_bytes", len(res.Final),
		"duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// Explain produces an instructor-style walkthrough of a configuration.
func (p *Pipeline) Explain(ctx context.Context, config string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "topology.explain")
	defer span.End()

	r, err := p.lib.Render("topology/explain", map[string]string{"Config": config})
	if err != nil {
		return "", spanErr(span, err)
	}
	out, err := p.chat(ctx, p.openai, providers.ChatRequest{
		Model:    p.reviewModel,
		System:   r.System,
		Messages: []providers.Message{providers.Text(providers.RoleUser, r.Text)},
	})
	if err != nil {
		return "", spanErr(span, err)
	}
	return strings.TrimSpace(out), nil
}

func (p *Pipeline) chat(ctx context.Context, client providers.Client, req providers.ChatRequest) (string, error) {
	resp, err := client.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", client.Name(), err)
	}
	return resp.Content, nil
}

// runStage wraps one step with events, a span and output trimming.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := p.tracer.Start(ctx, "topology."+string(stage))
	defer span.End()

	p.emit(StageEvent{Stage: stage, Status: StatusStarted})
	start := time.Now()

	out, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		p.emit(StageEvent{Stage: stage, Status: StatusFailed, Duration: elapsed, Error: err.Error()})
		return "", spanErr(span, fmt.Errorf("%s: %w", stage, err))
	}

	p.emit(StageEvent{Stage: stage, Status: StatusDone, Duration: elapsed})
	p.log.Debug("stage finished", "stage", stage, "duration", elapsed.Round(time.Millisecond))
	return strings.TrimSpace(out), nil
}

func (p *Pipeline) emit(ev StageEvent) {
	if p.sink != nil {
		p.sink(ev)
	}
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
