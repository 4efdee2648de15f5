package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"exam-grader/api/internal/document"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/prompt"
	"exam-grader/api/internal/retry"
	"exam-grader/api/internal/util"
)

var ErrEmptyResponse = errors.New("gemini: empty response")

// generator is the part of *genai.GenerativeModel the engine needs.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type connectFunc func(ctx context.Context, system string, jsonOut bool) (generator, func() error, error)

type Engine struct {
	APIKey  string
	Model   string
	Retry   retry.Policy
	Prompts prompt.Set
	// Timeout bounds a single GenerateContent call; 0 means no bound.
	Timeout time.Duration

	logger  *slog.Logger
	connect connectFunc
}

func New(apiKey, model string, policy retry.Policy, prompts prompt.Set, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		APIKey:  strings.TrimSpace(apiKey),
		Model:   strings.TrimSpace(model),
		Retry:   policy,
		Prompts: prompts,
		logger:  logger.With(slog.String("engine", "gemini")),
	}
	e.connect = e.dial
	return e
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) dial(ctx context.Context, system string, jsonOut bool) (generator, func() error, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, nil, err
	}
	m := cl.GenerativeModel(e.Model)
	if m == nil {
		_ = cl.Close()
		return nil, nil, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	if jsonOut {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	return m, cl.Close, nil
}

// --------------------------- GRADE ---------------------------

func (e *Engine) Grade(ctx context.Context, b document.Bundle) (string, error) {
	system, err := e.Prompts.Load(prompt.NameGrade)
	if err != nil {
		return "", err
	}
	txt, err := e.generate(ctx, "grade", system, false, prompt.BuildGrading(b))
	if err != nil {
		return "", fmt.Errorf("gemini grade: %w", err)
	}
	return txt, nil
}

// --------------------------- SCHEMA ---------------------------

func (e *Engine) AnalyzeQuestions(ctx context.Context, questionPaper string) (grading.Schema, error) {
	system, err := e.Prompts.Load(prompt.NameSchema)
	if err != nil {
		return grading.Schema{}, err
	}
	txt, err := e.generate(ctx, "schema", system, true, prompt.BuildSchema(questionPaper))
	if err != nil {
		return grading.Schema{}, fmt.Errorf("gemini schema: %w", err)
	}
	var out grading.Schema
	if err := decodeJSON(prompt.NameSchema, txt, &out); err != nil {
		return grading.Schema{}, fmt.Errorf("gemini schema: %w", err)
	}
	return out, nil
}

// --------------------------- EVALUATE ---------------------------

func (e *Engine) EvaluateAnswers(ctx context.Context, in grading.EvaluateRequest) (grading.Evaluation, error) {
	system, err := e.Prompts.Load(prompt.NameEvaluate)
	if err != nil {
		return grading.Evaluation{}, err
	}
	schemaJSON, err := json.MarshalIndent(in.Schema, "", "  ")
	if err != nil {
		return grading.Evaluation{}, fmt.Errorf("gemini evaluate: encode schema: %w", err)
	}
	txt, err := e.generate(ctx, "evaluate", system, true, prompt.BuildEvaluate(string(schemaJSON), in.Answers, in.Textbook))
	if err != nil {
		return grading.Evaluation{}, fmt.Errorf("gemini evaluate: %w", err)
	}
	var out grading.Evaluation
	if err := decodeJSON(prompt.NameEvaluate, txt, &out); err != nil {
		return grading.Evaluation{}, fmt.Errorf("gemini evaluate: %w", err)
	}
	return out, nil
}

// --------------------------- REPORT ---------------------------

func (e *Engine) WriteReport(ctx context.Context, card grading.Scorecard) (string, error) {
	system, err := e.Prompts.Load(prompt.NameReport)
	if err != nil {
		return "", err
	}
	cardJSON, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return "", fmt.Errorf("gemini report: encode scorecard: %w", err)
	}
	txt, err := e.generate(ctx, "report", system, false, prompt.BuildReport(string(cardJSON)))
	if err != nil {
		return "", fmt.Errorf("gemini report: %w", err)
	}
	return txt, nil
}

func (e *Engine) generate(ctx context.Context, phase, system string, jsonOut bool, user string) (string, error) {
	if e.APIKey == "" {
		return "", errors.New("GOOGLE_API_KEY is empty")
	}
	gen, closeFn, err := e.connect(ctx, system, jsonOut)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeFn != nil {
			_ = closeFn()
		}
	}()

	log := e.logger.With(slog.String("phase", phase), slog.String("model", e.Model))
	start := time.Now()
	log.Info("gemini.request", slog.Int("prompt_chars", len(user)))

	var txt string
	err = retry.Do(ctx, e.Retry, log, func(ctx context.Context) error {
		callCtx, cancel := e.callContext(ctx)
		defer cancel()
		resp, err := gen.GenerateContent(callCtx, genai.Text(user))
		if err != nil {
			return err
		}
		txt = collectText(resp)
		return nil
	})
	if err != nil {
		log.Error("gemini.error", slog.String("error", err.Error()), slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return "", err
	}
	txt = strings.TrimSpace(txt)
	log.Info("gemini.response", slog.Int("chars", len(txt)), slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	if txt == "" {
		return "", ErrEmptyResponse
	}
	return txt, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.Timeout)
}

func decodeJSON(contract, txt string, out any) error {
	raw, err := util.ExtractJSON(util.StripCodeFences(txt))
	if err != nil {
		return err
	}
	if err := prompt.Validate(contract, []byte(raw)); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("bad JSON: %w", err)
	}
	return nil
}

// collectText joins the text parts of the first candidate that has content.
func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
