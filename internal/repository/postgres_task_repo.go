package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studytrack/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用した課題リポジトリ。
type PostgresTaskRepo struct {
	q dbtx
}

const teacherTaskColumns = `id, class_id, description, due_date, duration_hint_minutes, created_at, updated_at`

const studentTaskColumns = `id, teacher_task_id, class_id, student_id, description, due_date,
	duration_hint_minutes, completed, completed_at, created_at, updated_at`

// rowScanner は *sql.Row と *sql.Rows の共通部分。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTeacherTask(s rowScanner) (*model.TeacherTask, error) {
	t := &model.TeacherTask{}
	var dueDate sql.NullTime
	var hint sql.NullInt64
	if err := s.Scan(&t.ID, &t.ClassID, &t.Description, &dueDate, &hint, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.DueDate = nullTimePtr(dueDate)
	t.DurationHintMinutes = nullIntPtr(hint)
	return t, nil
}

func scanStudentTask(s rowScanner) (*model.StudentTask, error) {
	t := &model.StudentTask{}
	var teacherTaskID, classID sql.NullString
	var dueDate, completedAt sql.NullTime
	var hint sql.NullInt64
	if err := s.Scan(
		&t.ID, &teacherTaskID, &classID, &t.StudentID, &t.Description, &dueDate,
		&hint, &t.Completed, &completedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.TeacherTaskID = nullStringPtr(teacherTaskID)
	t.ClassID = nullStringPtr(classID)
	t.DueDate = nullTimePtr(dueDate)
	t.DurationHintMinutes = nullIntPtr(hint)
	t.CompletedAt = nullTimePtr(completedAt)
	return t, nil
}

// CreateTeacherTask は教師課題を作成する。
func (r *PostgresTaskRepo) CreateTeacherTask(ctx context.Context, t *model.TeacherTask) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO teacher_tasks (`+teacherTaskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ClassID, t.Description, t.DueDate, t.DurationHintMinutes, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return mapPQError(err, "failed to insert teacher task")
	}
	return nil
}

// FindTeacherTask は教師課題を取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindTeacherTask(ctx context.Context, id string) (*model.TeacherTask, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+teacherTaskColumns+` FROM teacher_tasks WHERE id = $1`, id)
	t, err := scanTeacherTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find teacher task: %w", err)
	}
	return t, nil
}

// UpdateTeacherTask は教師課題の説明・期限・目安時間を更新する。
func (r *PostgresTaskRepo) UpdateTeacherTask(ctx context.Context, t *model.TeacherTask) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE teacher_tasks
		 SET description = $2, due_date = $3, duration_hint_minutes = $4, updated_at = $5
		 WHERE id = $1`,
		t.ID, t.Description, t.DueDate, t.DurationHintMinutes, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update teacher task: %w", err)
	}
	return checkRowsAffected(result, "teacher task not found")
}

// DeleteTeacherTask は教師課題を削除する。
// 展開済みの生徒課題はteacher_task_idのON DELETE CASCADEで削除される。
func (r *PostgresTaskRepo) DeleteTeacherTask(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM teacher_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete teacher task: %w", err)
	}
	return checkRowsAffected(result, "teacher task not found")
}

// ListTeacherTasksByClass はクラスの教師課題一覧を作成日時順で返す。
func (r *PostgresTaskRepo) ListTeacherTasksByClass(ctx context.Context, classID string) ([]*model.TeacherTask, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+teacherTaskColumns+` FROM teacher_tasks
		 WHERE class_id = $1 ORDER BY created_at, id`,
		classID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list teacher tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.TeacherTask
	for rows.Next() {
		t, err := scanTeacherTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan teacher task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// PropagateTeacherTask は教師課題の内容を展開済みの生徒課題に反映する。
func (r *PostgresTaskRepo) PropagateTeacherTask(ctx context.Context, t *model.TeacherTask) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE student_tasks
		 SET description = $2, due_date = $3, duration_hint_minutes = $4, updated_at = $5
		 WHERE teacher_task_id = $1`,
		t.ID, t.Description, t.DueDate, t.DurationHintMinutes, t.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate teacher task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// CreateStudentTask は生徒課題を作成する。
func (r *PostgresTaskRepo) CreateStudentTask(ctx context.Context, t *model.StudentTask) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO student_tasks (`+studentTaskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.TeacherTaskID, t.ClassID, t.StudentID, t.Description, t.DueDate,
		t.DurationHintMinutes, t.Completed, t.CompletedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return mapPQError(err, "failed to insert student task")
	}
	return nil
}

// FindStudentTask は生徒課題を取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindStudentTask(ctx context.Context, id string) (*model.StudentTask, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+studentTaskColumns+` FROM student_tasks WHERE id = $1`, id)
	t, err := scanStudentTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find student task: %w", err)
	}
	return t, nil
}

// UpdateStudentTask は生徒課題を更新する。
func (r *PostgresTaskRepo) UpdateStudentTask(ctx context.Context, t *model.StudentTask) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE student_tasks
		 SET description = $2, due_date = $3, duration_hint_minutes = $4,
		     completed = $5, completed_at = $6, updated_at = $7
		 WHERE id = $1`,
		t.ID, t.Description, t.DueDate, t.DurationHintMinutes,
		t.Completed, t.CompletedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update student task: %w", err)
	}
	return checkRowsAffected(result, "student task not found")
}

// DeleteStudentTask は生徒課題を削除する。
func (r *PostgresTaskRepo) DeleteStudentTask(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM student_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete student task: %w", err)
	}
	return checkRowsAffected(result, "student task not found")
}

// ListStudentTasksByStudent は生徒の課題一覧を返す。
func (r *PostgresTaskRepo) ListStudentTasksByStudent(ctx context.Context, studentID string) ([]*model.StudentTask, error) {
	return r.listStudentTasks(ctx,
		`SELECT `+studentTaskColumns+` FROM student_tasks
		 WHERE student_id = $1 ORDER BY created_at, id`,
		studentID)
}

// ListStudentTasksByTeacherTask は教師課題から展開された生徒課題一覧を返す。
func (r *PostgresTaskRepo) ListStudentTasksByTeacherTask(ctx context.Context, teacherTaskID string) ([]*model.StudentTask, error) {
	return r.listStudentTasks(ctx,
		`SELECT `+studentTaskColumns+` FROM student_tasks
		 WHERE teacher_task_id = $1 ORDER BY created_at, id`,
		teacherTaskID)
}

func (r *PostgresTaskRepo) listStudentTasks(ctx context.Context, query, arg string) ([]*model.StudentTask, error) {
	rows, err := r.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list student tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.StudentTask
	for rows.Next() {
		t, err := scanStudentTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
