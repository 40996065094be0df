package worker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRows(t *testing.T) {
	email := "siti@example.com"
	withMail := &model.AttemptResult{AttemptID: uuid.New(), StudentID: 1, ExamTitle: "Biology", Score: 3, TotalMarks: 4}
	noMail := &model.AttemptResult{AttemptID: uuid.New(), StudentID: 2, ExamTitle: "Biology"}

	rows := outboxRows([]*model.AttemptResult{withMail, noMail}, map[int]*string{1: &email})
	require.Len(t, rows, 2)

	assert.Equal(t, withMail.AttemptID, rows[0][0])
	assert.Equal(t, 1, rows[0][1])
	assert.Equal(t, &email, rows[0][2])
	assert.Equal(t, "Exam Result: Biology", rows[0][3])
	assert.Contains(t, rows[0][4], "Score: 3 / 4")

	assert.Equal(t, 2, rows[1][1])
	assert.Nil(t, rows[1][2])
}
