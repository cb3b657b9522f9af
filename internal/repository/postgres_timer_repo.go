package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/studytrack/internal/model"
)

// ErrForeignTx はPostgresStore以外のトランザクションが渡されたことを表す。
var ErrForeignTx = errors.New("transaction does not belong to the postgres store")

// PostgresTimerRepo はタイマー状態をtimer_statesテーブルに保存するリポジトリ。
// generation列を比較値とした楽観的ロックで状態遷移を1つに限定する。
type PostgresTimerRepo struct {
	db *sql.DB
}

// NewPostgresTimerRepo はPostgresTimerRepoを生成する。
func NewPostgresTimerRepo(db *sql.DB) *PostgresTimerRepo {
	return &PostgresTimerRepo{db: db}
}

// Load は生徒のタイマー状態を取得する。行が存在しない場合は初期状態（Idle, generation 0）を返す。
func (r *PostgresTimerRepo) Load(ctx context.Context, studentID string) (model.TimerState, error) {
	state := model.TimerState{StudentID: studentID}
	var classID sql.NullString
	var startedAt sql.NullTime
	var generation int64

	err := r.db.QueryRowContext(ctx,
		`SELECT status, class_id, started_at, generation FROM timer_states WHERE student_id = $1`,
		studentID,
	).Scan(&state.Status, &classID, &startedAt, &generation)

	if err == sql.ErrNoRows {
		return model.IdleTimerState(studentID), nil
	}
	if err != nil {
		return model.TimerState{}, fmt.Errorf("failed to load timer state: %w", err)
	}

	state.ClassID = classID.String
	if startedAt.Valid {
		state.StartedAt = startedAt.Time
	}
	state.Generation = uint64(generation)
	return state, nil
}

// CompareAndSwap は現在のgenerationがexpectedと一致する場合のみnextを書き込む。
// 書き込めた場合はtrueを返す。行が存在しない場合はexpected=0を一致とみなして作成する。
func (r *PostgresTimerRepo) CompareAndSwap(ctx context.Context, expected uint64, next model.TimerState) (bool, error) {
	return swapTimerState(ctx, r.db, expected, next)
}

// CompareAndSwapInTx はCompareAndSwapと同じ遷移をPostgresStoreのトランザクション内で行う。
// timer_statesの行をFOR UPDATEでロックしてから書き込むため、トランザクションが
// ロールバックされた場合は遷移も取り消される。
func (r *PostgresTimerRepo) CompareAndSwapInTx(ctx context.Context, tx Tx, expected uint64, next model.TimerState) (bool, error) {
	pt, ok := tx.(*postgresTx)
	if !ok {
		return false, ErrForeignTx
	}

	var current int64
	err := pt.q.QueryRowContext(ctx,
		`SELECT generation FROM timer_states WHERE student_id = $1 FOR UPDATE`,
		next.StudentID,
	).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return false, fmt.Errorf("failed to lock timer state: %w", err)
	}
	if uint64(current) != expected {
		return false, nil
	}
	return swapTimerState(ctx, pt.q, expected, next)
}

func swapTimerState(ctx context.Context, q dbtx, expected uint64, next model.TimerState) (bool, error) {
	var classID interface{}
	var startedAt interface{}
	if next.IsRunning() {
		classID = next.ClassID
		startedAt = next.StartedAt
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO timer_states (student_id, status, class_id, started_at, generation, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (student_id) DO UPDATE SET
		     status = EXCLUDED.status,
		     class_id = EXCLUDED.class_id,
		     started_at = EXCLUDED.started_at,
		     generation = EXCLUDED.generation,
		     updated_at = EXCLUDED.updated_at
		 WHERE timer_states.generation = $6`,
		next.StudentID, string(next.Status), classID, startedAt, int64(next.Generation), int64(expected),
	)
	if err != nil {
		return false, fmt.Errorf("failed to swap timer state: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
