package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"exam-grader/api/internal/document"
	"exam-grader/api/internal/document/pdftest"
	"exam-grader/api/internal/grading"
)

type fakeEngine struct {
	calls      []string
	gradeErr   error
	evaluation grading.Evaluation
	lastCard   grading.Scorecard
}

func (f *fakeEngine) Name() string     { return "fake" }
func (f *fakeEngine) GetModel() string { return "fake-1" }

func (f *fakeEngine) Grade(ctx context.Context, b document.Bundle) (string, error) {
	f.calls = append(f.calls, "grade")
	if f.gradeErr != nil {
		return "", f.gradeErr
	}
	return "REPORT for " + strings.TrimSpace(b.AnswerSheet.Text), nil
}

func (f *fakeEngine) AnalyzeQuestions(ctx context.Context, questionPaper string) (grading.Schema, error) {
	f.calls = append(f.calls, "schema")
	return grading.Schema{TotalMarks: 10, Sections: []grading.Section{{
		Name:      "A",
		Questions: []grading.Question{{Number: "1", Marks: 10}},
	}}}, nil
}

func (f *fakeEngine) EvaluateAnswers(ctx context.Context, in grading.EvaluateRequest) (grading.Evaluation, error) {
	f.calls = append(f.calls, "evaluate")
	return f.evaluation, nil
}

func (f *fakeEngine) WriteReport(ctx context.Context, card grading.Scorecard) (string, error) {
	f.calls = append(f.calls, "report")
	f.lastCard = card
	return "FINAL GRADING REPORT " + card.Summary(), nil
}

type memCache struct {
	saved map[string]grading.Result
	finds int
}

func (m *memCache) Find(ctx context.Context, hash, engine, model string, mode grading.Mode) (grading.Result, bool, error) {
	m.finds++
	res, ok := m.saved[hash+engine+model+string(mode)]
	return res, ok, nil
}

func (m *memCache) Save(ctx context.Context, hash string, res grading.Result) error {
	if m.saved == nil {
		m.saved = map[string]grading.Result{}
	}
	m.saved[hash+res.Engine+res.Model+string(res.Mode)] = res
	return nil
}

type recordSink struct {
	got []grading.Result
	err error
}

func (r *recordSink) Name() string { return "record" }
func (r *recordSink) Deliver(ctx context.Context, res grading.Result) error {
	r.got = append(r.got, res)
	return r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeExam(t *testing.T) []document.Source {
	t.Helper()
	dir := t.TempDir()
	pdftest.Write(t, dir, "q.pdf", pdftest.Build("Q1 Define osmosis"))
	pdftest.Write(t, dir, "a.pdf", pdftest.Build("Osmosis is water movement"))
	pdftest.Write(t, dir, "t.pdf", pdftest.Build("Osmosis reference"))
	return document.Sources(dir, "q.pdf", "a.pdf", "t.pdf")
}

func newTestGrader(engine grading.Engine, sources []document.Source, mode grading.Mode) *Grader {
	g := New(engine, sources, mode, quietLogger())
	g.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	g.newID = func() string { return "run-1" }
	return g
}

func TestRunSingleProducesReport(t *testing.T) {
	engine := &fakeEngine{}
	sink := &recordSink{}
	g := newTestGrader(engine, writeExam(t), grading.ModeSingle)
	g.Sinks = []Sink{sink}

	res, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Report == "" || !strings.Contains(res.Report, "water movement") {
		t.Fatalf("unexpected report %q", res.Report)
	}
	if res.RunID != "run-1" || res.Mode != grading.ModeSingle || res.Model != "fake-1" || len(res.Documents) != 3 {
		t.Fatalf("unexpected result metadata: %+v", res)
	}
	if len(engine.calls) != 1 || engine.calls[0] != "grade" {
		t.Fatalf("expected a single grade call, got %v", engine.calls)
	}
	if len(sink.got) != 1 {
		t.Fatalf("sink not called")
	}
}

func TestRunPipelinePhasesInOrder(t *testing.T) {
	engine := &fakeEngine{evaluation: grading.Evaluation{Evaluations: []grading.QuestionEvaluation{
		{Number: "1", MaxMarks: 10, MarksAwarded: 9, Feedback: "solid"},
	}}}
	g := newTestGrader(engine, writeExam(t), grading.ModePipeline)

	res, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"schema", "evaluate", "report"}
	if strings.Join(engine.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("expected phases %v, got %v", want, engine.calls)
	}
	if res.Scorecard == nil || res.Scorecard.Grade != "A+" || engine.lastCard.Percentage != 90 {
		t.Fatalf("unexpected scorecard: %+v", res.Scorecard)
	}
	if res.Schema == nil || res.Evaluation == nil {
		t.Fatalf("pipeline result misses intermediate data")
	}
}

func TestRunMissingFileFailsBeforeEngine(t *testing.T) {
	sources := writeExam(t)
	sources[2].Path += ".missing"
	engine := &fakeEngine{}
	g := newTestGrader(engine, sources, grading.ModeSingle)

	_, err := g.Run(context.Background())
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), sources[2].Path) {
		t.Fatalf("error %q does not name the missing path", err)
	}
	if len(engine.calls) != 0 {
		t.Fatalf("engine must not be called, got %v", engine.calls)
	}
}

func TestRunEngineErrorSkipsSinks(t *testing.T) {
	engine := &fakeEngine{gradeErr: errors.New("boom")}
	sink := &recordSink{}
	g := newTestGrader(engine, writeExam(t), grading.ModeSingle)
	g.Sinks = []Sink{sink}

	if _, err := g.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(sink.got) != 0 {
		t.Fatalf("sinks must not receive failed runs")
	}
}

func TestRunSinkErrorDoesNotFailRun(t *testing.T) {
	sink := &recordSink{err: errors.New("disk full")}
	g := newTestGrader(&fakeEngine{}, writeExam(t), grading.ModeSingle)
	g.Sinks = []Sink{sink}

	if _, err := g.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunUsesCache(t *testing.T) {
	sources := writeExam(t)
	cache := &memCache{}
	engine := &fakeEngine{}

	g := newTestGrader(engine, sources, grading.ModeSingle)
	g.Cache = cache
	first, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	second, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(engine.calls) != 1 {
		t.Fatalf("expected cached second run, engine calls %v", engine.calls)
	}
	if !second.Cached || second.Report != first.Report {
		t.Fatalf("expected cached copy of first result, got %+v", second)
	}
}

func TestRunUnknownMode(t *testing.T) {
	g := newTestGrader(&fakeEngine{}, writeExam(t), grading.Mode("batch"))
	if _, err := g.Run(context.Background()); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
