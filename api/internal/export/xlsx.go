package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/util"
)

const (
	summarySheet   = "Summary"
	questionsSheet = "Questions"
	// Excel rejects cells longer than this.
	maxCellChars = 32000
)

// WriteXLSX writes a workbook with a summary sheet and, when the run produced
// a scorecard, a question-wise breakdown.
func WriteXLSX(path string, res grading.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	rows := [][]any{
		{"Run ID", res.RunID},
		{"Created", res.CreatedAt.Format("2006-01-02 15:04:05 MST")},
		{"Mode", string(res.Mode)},
		{"Model", res.Engine + "/" + res.Model},
	}
	for _, d := range res.Documents {
		rows = append(rows, []any{d.Kind.Label(), fmt.Sprintf("%s (%d pages)", d.Path, d.Pages)})
	}
	if c := res.Scorecard; c != nil {
		rows = append(rows,
			[]any{"Total Marks", fmt.Sprintf("%g/%g", c.TotalObtained, c.TotalPossible)},
			[]any{"Percentage", c.Percentage},
			[]any{"Grade", c.Grade},
		)
	}
	rows = append(rows, []any{"Report", util.Truncate(res.Report, maxCellChars)})
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 100)

	if res.Scorecard != nil {
		if err := writeQuestions(f, res.Scorecard.Questions); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeQuestions(f *excelize.File, questions []grading.QuestionEvaluation) error {
	if _, err := f.NewSheet(questionsSheet); err != nil {
		return err
	}
	headers := []any{"Question", "Max Marks", "Marks Awarded", "Accuracy", "Feedback", "Covered", "Missed"}
	if err := f.SetSheetRow(questionsSheet, "A1", &headers); err != nil {
		return err
	}
	for i, q := range questions {
		row := []any{
			string(q.Number),
			q.MaxMarks,
			q.MarksAwarded,
			q.AccuracyRating,
			util.Truncate(q.Feedback, maxCellChars),
			strings.Join(q.KeyPointsCovered, "; "),
			strings.Join(q.KeyPointsMissed, "; "),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(questionsSheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(questionsSheet, "A", "A", 10)
	_ = f.SetColWidth(questionsSheet, "E", "E", 80)
	_ = f.SetColWidth(questionsSheet, "F", "G", 40)
	return nil
}

type XLSXSink struct {
	Path string
}

func (s XLSXSink) Name() string { return "xlsx" }

func (s XLSXSink) Deliver(ctx context.Context, res grading.Result) error {
	return WriteXLSX(s.Path, res)
}
