package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studytrack/internal/model"
)

// PostgresClassRepo はPostgreSQLを使用したクラスリポジトリ。
type PostgresClassRepo struct {
	q dbtx
}

// Create はクラスを作成する。
func (r *PostgresClassRepo) Create(ctx context.Context, class *model.Class) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO classes (id, teacher_id, name, join_code, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		class.ID, class.TeacherID, class.Name, class.JoinCode, class.CreatedAt,
	)
	if err != nil {
		return mapPQError(err, "failed to insert class")
	}
	return nil
}

// FindByID は指定IDのクラスを取得する。見つからない場合はnilを返す。
func (r *PostgresClassRepo) FindByID(ctx context.Context, id string) (*model.Class, error) {
	return r.findOne(ctx,
		`SELECT id, teacher_id, name, join_code, created_at FROM classes WHERE id = $1`, id)
}

// FindByJoinCode は参加コードでクラスを取得する。見つからない場合はnilを返す。
func (r *PostgresClassRepo) FindByJoinCode(ctx context.Context, code string) (*model.Class, error) {
	return r.findOne(ctx,
		`SELECT id, teacher_id, name, join_code, created_at FROM classes WHERE join_code = $1`, code)
}

func (r *PostgresClassRepo) findOne(ctx context.Context, query string, arg string) (*model.Class, error) {
	c := &model.Class{}
	err := r.q.QueryRowContext(ctx, query, arg).
		Scan(&c.ID, &c.TeacherID, &c.Name, &c.JoinCode, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find class: %w", err)
	}
	return c, nil
}

// ListByTeacher は教師が所有するクラス一覧を作成日時順で返す。
func (r *PostgresClassRepo) ListByTeacher(ctx context.Context, teacherID string) ([]*model.Class, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, teacher_id, name, join_code, created_at
		 FROM classes WHERE teacher_id = $1
		 ORDER BY created_at, id`,
		teacherID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes by teacher: %w", err)
	}
	defer rows.Close()

	var classes []*model.Class
	for rows.Next() {
		c := &model.Class{}
		if err := rows.Scan(&c.ID, &c.TeacherID, &c.Name, &c.JoinCode, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// ListByStudent は生徒が参加しているクラス一覧を学習時間合計付きで返す。
func (r *PostgresClassRepo) ListByStudent(ctx context.Context, studentID string) ([]model.ClassWithTotal, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT c.id, c.teacher_id, c.name, c.join_code, c.created_at, e.total_study_seconds
		 FROM enrollments e
		 JOIN classes c ON c.id = e.class_id
		 WHERE e.student_id = $1
		 ORDER BY c.name, c.id`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes by student: %w", err)
	}
	defer rows.Close()

	var classes []model.ClassWithTotal
	for rows.Next() {
		var c model.ClassWithTotal
		if err := rows.Scan(&c.ID, &c.TeacherID, &c.Name, &c.JoinCode, &c.CreatedAt, &c.TotalStudySeconds); err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// UpdateName はクラス名を更新する。
func (r *PostgresClassRepo) UpdateName(ctx context.Context, id, name string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE classes SET name = $2 WHERE id = $1`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update class name: %w", err)
	}
	return checkRowsAffected(result, "class not found")
}

// Delete はクラスを削除する。
// 展開済みの生徒課題を先に削除し、残りはON DELETE CASCADE / SET NULLに任せる。
func (r *PostgresClassRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM student_tasks
		 WHERE teacher_task_id IN (SELECT id FROM teacher_tasks WHERE class_id = $1)`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete spawned student tasks: %w", err)
	}

	result, err := r.q.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete class: %w", err)
	}
	return checkRowsAffected(result, "class not found")
}

// compile-time interface check
var _ ClassRepository = (*PostgresClassRepo)(nil)
