package notifier

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Message is a rendered result notification.
type Message struct {
	Subject string
	Body    string
}

// Render formats a graded attempt as the student's result mail.
func Render(r *model.AttemptResult) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Your attempt at %q has been graded.\n\n", r.ExamTitle)
	fmt.Fprintf(&b, "Status: %s\n", statusLabel(r.Status))
	fmt.Fprintf(&b, "Score: %d / %d\n", r.Score, r.TotalMarks)
	fmt.Fprintf(&b, "Correct answers: %d / %d\n", r.CorrectCount, r.TotalQuestions)
	fmt.Fprintf(&b, "Percentage: %s%%\n", decimal.NewFromFloat(r.Percentage).StringFixed(2))
	fmt.Fprintf(&b, "Time taken: %d of %d minutes\n", r.TimeTakenMinutes, r.DurationMinutes)

	return Message{
		Subject: "Exam Result: " + r.ExamTitle,
		Body:    b.String(),
	}
}

func statusLabel(s model.AttemptStatus) string {
	switch s {
	case model.AttemptStatusCompleted:
		return "Completed"
	case model.AttemptStatusTimeout:
		return "Time expired"
	case model.AttemptStatusCancelled:
		return "Cancelled"
	default:
		return "In progress"
	}
}
