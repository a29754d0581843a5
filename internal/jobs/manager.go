package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/mealplanner/internal/config"
	"github.com/yourusername/mealplanner/internal/mail"
	"github.com/yourusername/mealplanner/internal/storage"
)

const (
	taskTypeVerifyEmail = "mail:verify-email"
	queueMail           = "mail"
)

// Mailer はメール送信を行うコンポーネントです。
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// taskQueue はタスクの投入先です（*asynq.Client が満たします）。
type taskQueue interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager は確認メールジョブの投入と状態管理を担います。
type Manager struct {
	cfg    *config.Config
	client taskQueue
	server *asynq.Server
	mux    *asynq.ServeMux
	store  RecordStore
	mailer Mailer
	logger *log.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, store RecordStore, mailer Mailer, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if mailer == nil {
		return nil, errors.New("mailer is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueMail: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		mailer: mailer,
		logger: logger,
	}
	mux.HandleFunc(taskTypeVerifyEmail, manager.handleVerifyEmailTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// ScheduleVerification は登録ユーザーへの確認メールをキューに投入します。
func (m *Manager) ScheduleVerification(ctx context.Context, user storage.User) error {
	_, err := m.Enqueue(ctx, &VerificationPayload{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Token:  user.EmailToken,
	})
	return err
}

// Enqueue はジョブをキューに投入し、Asynq のタスクIDを返します。
func (m *Manager) Enqueue(ctx context.Context, payload *VerificationPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.UserID <= 0 {
		return "", fmt.Errorf("payload.UserID is required")
	}
	if payload.Email == "" || payload.Token == "" {
		return "", fmt.Errorf("payload.Email and payload.Token are required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	// ワーカーが先に動いても状態を記録できるよう、投入前にレコードを作る
	record := &Record{
		UserID: payload.UserID,
		Email:  payload.Email,
		Status: StatusQueued,
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeVerifyEmail, body, asynq.Queue(queueMail))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
	if err != nil {
		if markErr := m.store.MarkFailed(ctx, payload.UserID, &ErrorInfo{
			Code:    "ENQUEUE_FAILED",
			Message: err.Error(),
		}); markErr != nil {
			m.logf("failed to record enqueue failure user=%d: %v", payload.UserID, markErr)
		}
		return "", err
	}

	if err := m.store.SetTaskID(ctx, payload.UserID, info.ID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return "", err
	}
	return info.ID, nil
}

// GetRecord は配信状況を取得します。
func (m *Manager) GetRecord(ctx context.Context, userID int64) (*Record, error) {
	return m.store.Get(ctx, userID)
}

func (m *Manager) handleVerifyEmailTask(ctx context.Context, task *asynq.Task) error {
	var payload VerificationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return m.deliver(ctx, payload)
}

// deliver は確認メールを送信し、結果を記録します。
func (m *Manager) deliver(ctx context.Context, payload VerificationPayload) error {
	if payload.UserID <= 0 || payload.Email == "" {
		return fmt.Errorf("missing user in payload: %w", asynq.SkipRetry)
	}

	if err := m.store.MarkSending(ctx, payload.UserID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return err
	}

	msg := verificationMessage(m.cfg.PublicBaseURL, payload)
	if err := m.mailer.Send(ctx, msg); err != nil {
		m.logf("verification mail failed user=%d: %v", payload.UserID, err)
		if markErr := m.store.MarkFailed(ctx, payload.UserID, &ErrorInfo{
			Code:    "SEND_FAILED",
			Message: err.Error(),
		}); markErr != nil && !errors.Is(markErr, ErrRecordNotFound) {
			m.logf("failed to record failure user=%d: %v", payload.UserID, markErr)
		}
		return err
	}

	if err := m.store.MarkSent(ctx, payload.UserID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return err
	}
	return nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}
