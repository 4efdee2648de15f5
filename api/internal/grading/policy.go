package grading

import "math"

// CalculateGrade maps a percentage score to a letter grade.
func CalculateGrade(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B"
	case percentage >= 60:
		return "C"
	case percentage >= 50:
		return "D"
	default:
		return "F"
	}
}

// Score totals the per-question marks. The model's own totals are ignored;
// awarded marks are clamped to [0, max].
func Score(ev Evaluation) Scorecard {
	card := Scorecard{Questions: make([]QuestionEvaluation, 0, len(ev.Evaluations))}
	for _, q := range ev.Evaluations {
		if q.MaxMarks < 0 {
			q.MaxMarks = 0
		}
		q.MarksAwarded = math.Max(0, math.Min(q.MarksAwarded, q.MaxMarks))
		card.TotalObtained += q.MarksAwarded
		card.TotalPossible += q.MaxMarks
		card.Questions = append(card.Questions, q)
	}
	if card.TotalPossible > 0 {
		card.Percentage = math.Round(card.TotalObtained/card.TotalPossible*10000) / 100
	}
	card.Grade = CalculateGrade(card.Percentage)
	return card
}
