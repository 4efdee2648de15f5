package grading

import (
	"context"

	"exam-grader/api/internal/document"
)

type Engine interface {
	Name() string
	GetModel() string
	// Grade sends all three documents in one prompt and returns the report text.
	Grade(ctx context.Context, b document.Bundle) (string, error)
	AnalyzeQuestions(ctx context.Context, questionPaper string) (Schema, error)
	EvaluateAnswers(ctx context.Context, in EvaluateRequest) (Evaluation, error)
	WriteReport(ctx context.Context, card Scorecard) (string, error)
}
