package timer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/studytrack/internal/model"
)

const redisKeyPrefix = "studytrack:timer:"

// RedisStore はRedisのハッシュにタイマー状態を保持するStateStore。
// 複数インスタンスで同じ生徒のタイマーを共有する構成で使う。
// CompareAndSwapはWATCH/MULTIの楽観的トランザクションで実装する。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis はredis://形式のURLからクライアントを生成し、Pingで疎通を確認する。
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func redisKey(studentID string) string {
	return redisKeyPrefix + studentID
}

// Load は生徒のタイマー状態を返す。キーが存在しない場合はIdleを返す。
func (s *RedisStore) Load(ctx context.Context, studentID string) (model.TimerState, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(studentID)).Result()
	if err != nil {
		return model.TimerState{}, fmt.Errorf("failed to load timer state: %w", err)
	}
	return decodeState(studentID, fields)
}

// CompareAndSwap はGenerationが一致する場合のみnextを保存する。
// WATCH中に他のクライアントがキーを変更した場合は保存せずfalseを返す。
func (s *RedisStore) CompareAndSwap(ctx context.Context, expected uint64, next model.TimerState) (bool, error) {
	key := redisKey(next.StudentID)
	swapped := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "generation").Uint64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expected {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeState(next))
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to swap timer state: %w", err)
	}
	return swapped, nil
}

func encodeState(state model.TimerState) map[string]interface{} {
	startedAt := ""
	classID := ""
	if state.IsRunning() {
		startedAt = state.StartedAt.UTC().Format(time.RFC3339Nano)
		classID = state.ClassID
	}
	return map[string]interface{}{
		"status":     string(state.Status),
		"class_id":   classID,
		"started_at": startedAt,
		"generation": strconv.FormatUint(state.Generation, 10),
	}
}

func decodeState(studentID string, fields map[string]string) (model.TimerState, error) {
	if len(fields) == 0 {
		return model.IdleTimerState(studentID), nil
	}

	state := model.TimerState{
		StudentID: studentID,
		Status:    model.TimerStatus(fields["status"]),
		ClassID:   fields["class_id"],
	}

	gen, err := strconv.ParseUint(fields["generation"], 10, 64)
	if err != nil {
		return model.TimerState{}, fmt.Errorf("invalid timer generation %q: %w", fields["generation"], err)
	}
	state.Generation = gen

	if state.IsRunning() {
		startedAt, err := time.Parse(time.RFC3339Nano, fields["started_at"])
		if err != nil {
			return model.TimerState{}, fmt.Errorf("invalid timer start %q: %w", fields["started_at"], err)
		}
		state.StartedAt = startedAt
	}
	return state, nil
}

var _ StateStore = (*RedisStore)(nil)
