// Package prompt holds the grading prompts and the JSON contracts the model
// must answer with. Every prompt can be overridden by a file
// <PROMPT_DIR>/<name>.txt.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"exam-grader/api/internal/document"
)

const (
	NameGrade    = "grade"
	NameSchema   = "schema"
	NameEvaluate = "evaluate"
	NameReport   = "report"
)

var allowedNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var builtin = map[string]string{
	NameGrade:    GradeSystem,
	NameSchema:   SchemaSystem,
	NameEvaluate: EvaluateSystem,
	NameReport:   ReportSystem,
}

// Set resolves prompts, preferring files in Dir over the built-in texts.
type Set struct {
	Dir string
}

func (s Set) Load(name string) (string, error) {
	if !allowedNameRe.MatchString(name) {
		return "", fmt.Errorf("invalid prompt name %q", name)
	}
	if s.Dir != "" {
		p := filepath.Join(s.Dir, name+".txt")
		b, err := os.ReadFile(p)
		switch {
		case err == nil && len(strings.TrimSpace(string(b))) > 0:
			return strings.TrimSpace(string(b)), nil
		case err != nil && !os.IsNotExist(err):
			return "", fmt.Errorf("read prompt %s: %w", p, err)
		}
	}
	text, ok := builtin[name]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	return text, nil
}

// BuildGrading is the single-shot user prompt: the three documents under
// labelled headers, question paper first.
func BuildGrading(b document.Bundle) string {
	var sb strings.Builder
	sb.WriteString("Grade the student's exam using the documents below.\n")
	for _, d := range b.Documents() {
		writeDocument(&sb, d)
	}
	sb.WriteString("\nProduce the FINAL GRADING REPORT now.\n")
	return sb.String()
}

func BuildSchema(questionPaper string) string {
	return "Analyze this question paper and return its schema as JSON.\n\n" +
		"=== QUESTION PAPER ===\n" + questionPaper + "\n=== END QUESTION PAPER ===\n"
}

func BuildEvaluate(schemaJSON, answers, textbook string) string {
	var sb strings.Builder
	sb.WriteString("Evaluate the student's answers. Return JSON only.\n\n")
	sb.WriteString("=== QUESTION SCHEMA ===\n")
	sb.WriteString(schemaJSON)
	sb.WriteString("\n=== END QUESTION SCHEMA ===\n\n")
	sb.WriteString("=== STUDENT ANSWER SHEET ===\n")
	sb.WriteString(answers)
	sb.WriteString("\n=== END STUDENT ANSWER SHEET ===\n\n")
	sb.WriteString("=== REFERENCE TEXTBOOK/NOTES ===\n")
	sb.WriteString(textbook)
	sb.WriteString("\n=== END REFERENCE TEXTBOOK/NOTES ===\n")
	return sb.String()
}

func BuildReport(scorecardJSON string) string {
	return "Write the final grading report for this scorecard. Use the totals, percentage and grade " +
		"exactly as given; do not recompute them.\n\n=== SCORECARD ===\n" + scorecardJSON + "\n=== END SCORECARD ===\n"
}

func writeDocument(sb *strings.Builder, d document.Document) {
	header := strings.ToUpper(d.Kind.Label())
	fmt.Fprintf(sb, "\n=== %s (%d pages) ===\n", header, d.Pages)
	sb.WriteString(strings.TrimSpace(d.Text))
	fmt.Fprintf(sb, "\n=== END %s ===\n", header)
}
