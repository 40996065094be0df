package memory

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// Seed is the JSON document accepted by LoadSeed.
type Seed struct {
	Exams []SeedExam `json:"exams"`
}

// SeedExam is one exam with its pool and enrolled student ids.
type SeedExam struct {
	Exam      model.ExamDefinition `json:"exam"`
	Questions []model.Question     `json:"questions"`
	Students  []int                `json:"students"`
}

// LoadSeed reads a Seed document and stores every exam in it.
// It returns the number of exams loaded.
func (s *Store) LoadSeed(r io.Reader) (int, error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	for i, e := range seed.Exams {
		for _, q := range e.Questions {
			if !q.CorrectOption.Valid() {
				return 0, fmt.Errorf("exam %d: question %s has invalid correct option %q", i, q.ID, q.CorrectOption)
			}
			if q.Marks <= 0 {
				return 0, fmt.Errorf("exam %d: question %s must carry positive marks, got %d", i, q.ID, q.Marks)
			}
		}
		s.PutExam(e.Exam, e.Questions...)
		for _, sid := range e.Students {
			s.Enroll(sid, e.Exam.ID)
		}
	}
	return len(seed.Exams), nil
}
