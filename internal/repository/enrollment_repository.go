package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnrollmentRepository answers whether a student is targeted by an exam's
// rules (class, or grade/major/religion).
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// IsEnrolled reports whether any target rule of the exam matches the student.
// A rule with a class_id matches that class only; otherwise every non-null
// column of the rule must match.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, studentID int, examID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM exam_target_rules etr
		   JOIN students s ON s.id = $1
		   JOIN classes c ON c.id = s.class_id
		   WHERE etr.exam_id = $2
		     AND (
		       etr.class_id = c.id
		       OR (
		         etr.class_id IS NULL
		         AND (etr.grade_level IS NULL OR etr.grade_level = CAST(c.grade_level AS VARCHAR))
		         AND (etr.major_code IS NULL OR etr.major_code = c.major_code)
		         AND (etr.religion IS NULL OR etr.religion = s.religion)
		       )
		     )
		 )`,
		studentID, examID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}
