package grading

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"exam-grader/api/internal/document"
)

type Mode string

const (
	ModeSingle   Mode = "single"
	ModePipeline Mode = "pipeline"
)

// QuestionNumber accepts both "3" and 3 from the model.
type QuestionNumber string

func (q *QuestionNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = QuestionNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*q = QuestionNumber(n.String())
	return nil
}

// --- question paper schema ---

type Question struct {
	Number QuestionNumber `json:"question_number"`
	Marks  float64        `json:"marks"`
	Type   string         `json:"type,omitempty"`
	Text   string         `json:"question_text,omitempty"`
}

type Section struct {
	Name       string     `json:"section_name"`
	TotalMarks float64    `json:"total_marks"`
	Questions  []Question `json:"questions"`
}

type Schema struct {
	TotalMarks   float64   `json:"total_marks"`
	Sections     []Section `json:"sections"`
	Instructions string    `json:"instructions,omitempty"`
}

func (s Schema) QuestionCount() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Questions)
	}
	return n
}

// --- answer evaluation ---

type QuestionEvaluation struct {
	Number           QuestionNumber `json:"question_number"`
	MaxMarks         float64        `json:"max_marks"`
	MarksAwarded     float64        `json:"marks_awarded"`
	Feedback         string         `json:"feedback"`
	KeyPointsCovered []string       `json:"key_points_covered,omitempty"`
	KeyPointsMissed  []string       `json:"key_points_missed,omitempty"`
	AccuracyRating   string         `json:"accuracy_rating,omitempty"`
}

type Evaluation struct {
	Evaluations   []QuestionEvaluation `json:"evaluations"`
	TotalObtained float64              `json:"total_marks_obtained"`
	TotalPossible float64              `json:"total_marks_possible"`
}

type EvaluateRequest struct {
	Schema   Schema
	Answers  string
	Textbook string
}

// Scorecard holds totals recomputed locally from per-question marks.
type Scorecard struct {
	TotalObtained float64              `json:"total_marks_obtained"`
	TotalPossible float64              `json:"total_marks_possible"`
	Percentage    float64              `json:"percentage"`
	Grade         string               `json:"grade"`
	Questions     []QuestionEvaluation `json:"questions"`
}

func (s Scorecard) Summary() string {
	return formatMarks(s.TotalObtained) + "/" + formatMarks(s.TotalPossible) +
		" (" + strconv.FormatFloat(s.Percentage, 'f', 2, 64) + "%, " + s.Grade + ")"
}

func formatMarks(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Result is one grading run. Report is the model's text, kept verbatim.
type Result struct {
	RunID      string              `json:"run_id"`
	Mode       Mode                `json:"mode"`
	Engine     string              `json:"engine"`
	Model      string              `json:"model"`
	CreatedAt  time.Time           `json:"created_at"`
	Documents  []document.Document `json:"documents"`
	Report     string              `json:"report"`
	Schema     *Schema             `json:"schema,omitempty"`
	Evaluation *Evaluation         `json:"evaluation,omitempty"`
	Scorecard  *Scorecard          `json:"scorecard,omitempty"`
	Cached     bool                `json:"cached,omitempty"`
}
