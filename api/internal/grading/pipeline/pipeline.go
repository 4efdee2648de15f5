// Package pipeline runs one grading session: check inputs, extract text,
// ask the engine, then hand the result to the configured sinks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"exam-grader/api/internal/document"
	"exam-grader/api/internal/grading"
)

// Cache stores finished results keyed by the document hash.
type Cache interface {
	Find(ctx context.Context, hash, engine, model string, mode grading.Mode) (grading.Result, bool, error)
	Save(ctx context.Context, hash string, res grading.Result) error
}

// Sink receives the finished result (file export, chat delivery).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, res grading.Result) error
}

type Grader struct {
	Engine  grading.Engine
	Sources []document.Source
	Mode    grading.Mode
	Cache   Cache
	Sinks   []Sink
	Logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

func New(engine grading.Engine, sources []document.Source, mode grading.Mode, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{
		Engine:  engine,
		Sources: sources,
		Mode:    mode,
		Logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (g *Grader) Run(ctx context.Context) (grading.Result, error) {
	runID := g.newID()
	log := g.Logger.With(slog.String("run_id", runID), slog.String("mode", string(g.Mode)))

	if err := document.Check(g.Sources); err != nil {
		return grading.Result{}, err
	}

	log.Info("documents.loading", slog.Int("count", len(g.Sources)))
	bundle, err := document.LoadBundle(ctx, g.Sources)
	if err != nil {
		return grading.Result{}, err
	}
	for _, d := range bundle.Documents() {
		log.Info("document.loaded",
			slog.String("type", string(d.Kind)),
			slog.String("path", d.Path),
			slog.Int("pages", d.Pages),
			slog.Int("chars", d.CharCount()),
		)
	}

	hash := bundle.Hash()
	if g.Cache != nil {
		cached, ok, err := g.Cache.Find(ctx, hash, g.Engine.Name(), g.Engine.GetModel(), g.Mode)
		if err != nil {
			log.Warn("cache.lookup_failed", slog.String("error", err.Error()))
		} else if ok {
			log.Info("cache.hit", slog.String("cached_run_id", cached.RunID))
			cached.Cached = true
			g.deliver(ctx, log, cached)
			return cached, nil
		}
	}

	res := grading.Result{
		RunID:     runID,
		Mode:      g.Mode,
		Engine:    g.Engine.Name(),
		Model:     g.Engine.GetModel(),
		CreatedAt: g.now().UTC(),
		Documents: bundle.Documents(),
	}

	switch g.Mode {
	case grading.ModeSingle, "":
		res.Mode = grading.ModeSingle
		err = g.runSingle(ctx, log, bundle, &res)
	case grading.ModePipeline:
		err = g.runPipeline(ctx, log, bundle, &res)
	default:
		err = fmt.Errorf("unknown grading mode %q", g.Mode)
	}
	if err != nil {
		return grading.Result{}, err
	}

	if g.Cache != nil {
		if err := g.Cache.Save(ctx, hash, res); err != nil {
			log.Warn("cache.save_failed", slog.String("error", err.Error()))
		}
	}
	g.deliver(ctx, log, res)
	return res, nil
}

func (g *Grader) runSingle(ctx context.Context, log *slog.Logger, b document.Bundle, res *grading.Result) error {
	log.Info("phase.start", slog.String("phase", "grade"))
	report, err := g.Engine.Grade(ctx, b)
	if err != nil {
		return err
	}
	res.Report = report
	log.Info("phase.done", slog.String("phase", "grade"), slog.Int("report_chars", len(report)))
	return nil
}

func (g *Grader) runPipeline(ctx context.Context, log *slog.Logger, b document.Bundle, res *grading.Result) error {
	log.Info("phase.start", slog.String("phase", "schema"))
	schema, err := g.Engine.AnalyzeQuestions(ctx, b.QuestionPaper.Text)
	if err != nil {
		return err
	}
	res.Schema = &schema
	log.Info("phase.done", slog.String("phase", "schema"),
		slog.Int("questions", schema.QuestionCount()),
		slog.Float64("total_marks", schema.TotalMarks),
	)

	log.Info("phase.start", slog.String("phase", "evaluate"))
	ev, err := g.Engine.EvaluateAnswers(ctx, grading.EvaluateRequest{
		Schema:   schema,
		Answers:  b.AnswerSheet.Text,
		Textbook: b.Textbook.Text,
	})
	if err != nil {
		return err
	}
	res.Evaluation = &ev
	log.Info("phase.done", slog.String("phase", "evaluate"), slog.Int("evaluations", len(ev.Evaluations)))

	card := grading.Score(ev)
	res.Scorecard = &card
	log.Info("phase.done", slog.String("phase", "score"), slog.String("summary", card.Summary()))

	log.Info("phase.start", slog.String("phase", "report"))
	report, err := g.Engine.WriteReport(ctx, card)
	if err != nil {
		return err
	}
	res.Report = report
	log.Info("phase.done", slog.String("phase", "report"), slog.Int("report_chars", len(report)))
	return nil
}

// deliver never fails the run: the report has already been produced.
func (g *Grader) deliver(ctx context.Context, log *slog.Logger, res grading.Result) {
	for _, s := range g.Sinks {
		if err := s.Deliver(ctx, res); err != nil {
			log.Error("sink.failed", slog.String("sink", s.Name()), slog.String("error", err.Error()))
			continue
		}
		log.Info("sink.delivered", slog.String("sink", s.Name()))
	}
}
