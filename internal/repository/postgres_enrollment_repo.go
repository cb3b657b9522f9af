package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studytrack/internal/model"
)

// PostgresEnrollmentRepo はPostgreSQLを使用した受講登録リポジトリ。
type PostgresEnrollmentRepo struct {
	q dbtx
}

// Create は受講登録を作成する。
func (r *PostgresEnrollmentRepo) Create(ctx context.Context, e *model.Enrollment) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO enrollments (class_id, student_id, total_study_seconds, joined_at)
		 VALUES ($1, $2, $3, $4)`,
		e.ClassID, e.StudentID, e.TotalStudySeconds, e.JoinedAt,
	)
	if err != nil {
		return mapPQError(err, "failed to insert enrollment")
	}
	return nil
}

// Find は受講登録を取得する。見つからない場合はnilを返す。
func (r *PostgresEnrollmentRepo) Find(ctx context.Context, classID, studentID string) (*model.Enrollment, error) {
	return r.find(ctx,
		`SELECT class_id, student_id, total_study_seconds, joined_at
		 FROM enrollments WHERE class_id = $1 AND student_id = $2`,
		classID, studentID)
}

// FindForUpdate は受講登録をSELECT ... FOR UPDATEで行ロックして取得する。
// 同じ受講登録に対する集計値の更新はトランザクション終了まで直列化される。
func (r *PostgresEnrollmentRepo) FindForUpdate(ctx context.Context, classID, studentID string) (*model.Enrollment, error) {
	return r.find(ctx,
		`SELECT class_id, student_id, total_study_seconds, joined_at
		 FROM enrollments WHERE class_id = $1 AND student_id = $2
		 FOR UPDATE`,
		classID, studentID)
}

func (r *PostgresEnrollmentRepo) find(ctx context.Context, query, classID, studentID string) (*model.Enrollment, error) {
	e := &model.Enrollment{}
	err := r.q.QueryRowContext(ctx, query, classID, studentID).
		Scan(&e.ClassID, &e.StudentID, &e.TotalStudySeconds, &e.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollment: %w", err)
	}
	return e, nil
}

// UpdateTotal は学習時間集計値を上書きする。
func (r *PostgresEnrollmentRepo) UpdateTotal(ctx context.Context, classID, studentID string, totalSeconds int64) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE enrollments SET total_study_seconds = $3
		 WHERE class_id = $1 AND student_id = $2`,
		classID, studentID, totalSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to update study total: %w", err)
	}
	return checkRowsAffected(result, "enrollment not found")
}

// ListStudentIDs はクラスの現在の受講者IDを返す。
func (r *PostgresEnrollmentRepo) ListStudentIDs(ctx context.Context, classID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT student_id FROM enrollments WHERE class_id = $1 ORDER BY student_id`,
		classID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrolled students: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByClass はクラスの受講登録一覧を返す。
func (r *PostgresEnrollmentRepo) ListByClass(ctx context.Context, classID string) ([]*model.Enrollment, error) {
	return r.list(ctx,
		`SELECT class_id, student_id, total_study_seconds, joined_at
		 FROM enrollments WHERE class_id = $1 ORDER BY student_id`,
		classID)
}

// ListAll は全受講登録を返す。
func (r *PostgresEnrollmentRepo) ListAll(ctx context.Context) ([]*model.Enrollment, error) {
	return r.list(ctx,
		`SELECT class_id, student_id, total_study_seconds, joined_at
		 FROM enrollments ORDER BY class_id, student_id`)
}

func (r *PostgresEnrollmentRepo) list(ctx context.Context, query string, args ...interface{}) ([]*model.Enrollment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var out []*model.Enrollment
	for rows.Next() {
		e := &model.Enrollment{}
		if err := rows.Scan(&e.ClassID, &e.StudentID, &e.TotalStudySeconds, &e.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete は受講登録を削除する。study_sessionsはCASCADE削除される。
func (r *PostgresEnrollmentRepo) Delete(ctx context.Context, classID, studentID string) error {
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM enrollments WHERE class_id = $1 AND student_id = $2`,
		classID, studentID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	return checkRowsAffected(result, "enrollment not found")
}

// compile-time interface check
var _ EnrollmentRepository = (*PostgresEnrollmentRepo)(nil)
