package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studytrack/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用した学習セッションリポジトリ。
type PostgresSessionRepo struct {
	q dbtx
}

// Create は学習セッションを作成する。
// CHECK制約により start_time < end_time が保証される。
func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.StudySession) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO study_sessions (id, class_id, student_id, start_time, end_time, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ClassID, s.StudentID, s.StartTime, s.EndTime, s.Description, s.CreatedAt,
	)
	if err != nil {
		return mapPQError(err, "failed to insert study session")
	}
	return nil
}

// FindByID は指定IDの学習セッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.StudySession, error) {
	s := &model.StudySession{}
	err := r.q.QueryRowContext(ctx,
		`SELECT id, class_id, student_id, start_time, end_time, description, created_at
		 FROM study_sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.ClassID, &s.StudentID, &s.StartTime, &s.EndTime, &s.Description, &s.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find study session by ID: %w", err)
	}

	return s, nil
}

// Update は学習セッションの終了時刻と説明を更新する。
func (r *PostgresSessionRepo) Update(ctx context.Context, s *model.StudySession) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE study_sessions SET end_time = $2, description = $3 WHERE id = $1`,
		s.ID, s.EndTime, s.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to update study session: %w", err)
	}
	return checkRowsAffected(result, "study session not found")
}

// Delete は指定IDの学習セッションを削除する。
func (r *PostgresSessionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM study_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete study session: %w", err)
	}
	return checkRowsAffected(result, "study session not found")
}

// ListByEnrollment は受講登録に属する学習セッションを開始時刻順で返す。
func (r *PostgresSessionRepo) ListByEnrollment(ctx context.Context, classID, studentID string) ([]*model.StudySession, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, class_id, student_id, start_time, end_time, description, created_at
		 FROM study_sessions
		 WHERE class_id = $1 AND student_id = $2
		 ORDER BY start_time, id`,
		classID, studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list study sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.StudySession
	for rows.Next() {
		s := &model.StudySession{}
		if err := rows.Scan(&s.ID, &s.ClassID, &s.StudentID, &s.StartTime, &s.EndTime, &s.Description, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan study session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SumDurations は受講登録に属する学習セッションの秒数合計を返す。
// 1件ごとに秒未満を切り捨ててから合計し、DurationSecondsと同じ丸めにそろえる。
func (r *PostgresSessionRepo) SumDurations(ctx context.Context, classID, studentID string) (int64, error) {
	var total int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(FLOOR(EXTRACT(EPOCH FROM (end_time - start_time)))), 0)::BIGINT
		 FROM study_sessions
		 WHERE class_id = $1 AND student_id = $2`,
		classID, studentID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum study session durations: %w", err)
	}
	return total, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
