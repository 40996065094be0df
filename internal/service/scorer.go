package service

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// IsCorrect compares a selected option against the question's answer key.
func IsCorrect(q *model.Question, selected model.Option) bool {
	return q.CorrectOption == selected
}

// Grade is the aggregate outcome of scoring one attempt.
type Grade struct {
	Score          int
	CorrectCount   int
	TotalQuestions int
	Review         []model.AnswerReview
}

// ScoreAttempt grades answers against the attempt's selected questions.
// Correctness is re-derived from the answer key; stored flags are not trusted.
// Answers to questions outside the sample are ignored. Unanswered questions
// count toward TotalQuestions and earn nothing.
func ScoreAttempt(selected []model.Question, answers []model.Answer) Grade {
	byQuestion := make(map[uuid.UUID]model.Option, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.SelectedOption
	}

	g := Grade{
		TotalQuestions: len(selected),
		Review:         make([]model.AnswerReview, 0, len(selected)),
	}
	for i := range selected {
		q := &selected[i]
		line := model.AnswerReview{
			QuestionID:    q.ID,
			QuestionText:  q.QuestionText,
			CorrectOption: q.CorrectOption,
			Marks:         q.Marks,
			Explanation:   q.Explanation,
		}
		if opt, ok := byQuestion[q.ID]; ok {
			opt := opt
			line.SelectedOption = &opt
			if IsCorrect(q, opt) {
				line.IsCorrect = true
				g.Score += q.Marks
				g.CorrectCount++
			}
		}
		g.Review = append(g.Review, line)
	}
	return g
}

// Percentage is score over totalMarks as a percentage rounded to two places.
// Zero total marks yields 0.
func Percentage(score, totalMarks int) float64 {
	if totalMarks <= 0 {
		return 0
	}
	p := decimal.NewFromInt(int64(score)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(totalMarks))).
		Round(2)
	f, _ := p.Float64()
	return f
}
