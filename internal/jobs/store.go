package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "verify:"
	maxTxRetries    = 5
)

// ErrRecordNotFound は配信状況レコードが存在しないことを表します。
var ErrRecordNotFound = errors.New("jobs: verification record not found")

// RecordStore は配信状況の保存先です。
type RecordStore interface {
	Get(ctx context.Context, userID int64) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	MarkSending(ctx context.Context, userID int64) error
	MarkSent(ctx context.Context, userID int64) error
	MarkFailed(ctx context.Context, userID int64, errInfo *ErrorInfo) error
	// SetTaskID は状態を変えずにタスクIDだけを記録します。
	SetTaskID(ctx context.Context, userID int64, taskID string) error
}

// Store は配信状況を Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ RecordStore = (*Store)(nil)

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get は配信状況を取得します。存在しない場合は nil, nil を返します。
func (s *Store) Get(ctx context.Context, userID int64) (*Record, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("userID is required")
	}
	data, err := s.rdb.Get(ctx, recordKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert は配信状況を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, recordKey(record.UserID), payload, s.ttl).Err()
}

// MarkSending は送信開始を記録し、試行回数を増やします。
func (s *Store) MarkSending(ctx context.Context, userID int64) error {
	return s.updatePartial(ctx, userID, func(record *Record) {
		record.Status = StatusSending
		record.Attempts++
	})
}

// MarkSent は送信完了を記録します。
func (s *Store) MarkSent(ctx context.Context, userID int64) error {
	return s.updatePartial(ctx, userID, func(record *Record) {
		record.Status = StatusSent
		record.Error = nil
	})
}

// MarkFailed は送信失敗を記録します。
func (s *Store) MarkFailed(ctx context.Context, userID int64, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, userID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// SetTaskID は Asynq のタスクIDを記録します。
func (s *Store) SetTaskID(ctx context.Context, userID int64, taskID string) error {
	return s.updatePartial(ctx, userID, func(record *Record) {
		record.TaskID = taskID
	})
}

func (s *Store) updatePartial(ctx context.Context, userID int64, mutate func(*Record)) error {
	key := recordKey(userID)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: user %d", ErrRecordNotFound, userID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("jobs: too many concurrent updates for user %d", userID)
}

func recordKey(userID int64) string {
	return recordKeyPrefix + strconv.FormatInt(userID, 10)
}
