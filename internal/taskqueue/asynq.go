// Package taskqueue は jobs.Queue の実装を提供します。
package taskqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/job-tracker/internal/jobs"
)

// AsynqConfig は Asynq キューの設定です。
type AsynqConfig struct {
	RedisURL    string
	Concurrency int
	// Queues はキュー名と優先度の重みです。空の場合は default のみを処理します。
	Queues map[string]int
	Logger *zap.Logger
}

// Asynq は Redis をブローカーとする jobs.Queue 実装です。
type Asynq struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

var (
	_ jobs.Queue    = (*Asynq)(nil)
	_ jobs.Canceler = (*Asynq)(nil)
)

// NewAsynq は Asynq のクライアント・サーバー・インスペクターを初期化します。
func NewAsynq(cfg AsynqConfig) (*Asynq, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{jobs.DefaultRoute: 1}
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues:      queues,
			Logger:      logger.Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				logger.Warn("asynq task failed",
					zap.String("task_name", task.Type()),
					zap.String("task_id", taskID),
					zap.Error(err),
				)
			}),
		},
	)

	return &Asynq{
		client:    asynq.NewClient(opt),
		server:    server,
		inspector: asynq.NewInspector(opt),
		mux:       asynq.NewServeMux(),
		logger:    logger,
	}, nil
}

// Submit はタスクを Redis に投入します。
// タスクIDには jobs 側で採番した task_id をそのまま使います。
// 失敗したジョブは failure として記録されるため、Asynq 側では再試行しません。
// 再実行は Enqueue からやり直します。
func (a *Asynq) Submit(ctx context.Context, sub *jobs.Submission) (string, error) {
	if sub == nil {
		return "", fmt.Errorf("submission is nil")
	}
	body, err := jobs.EncodePayload(sub)
	if err != nil {
		return "", err
	}
	route := sub.Route
	if route == "" {
		route = jobs.DefaultRoute
	}
	task := asynq.NewTask(sub.TaskName, body)
	info, err := a.client.EnqueueContext(ctx, task,
		asynq.TaskID(sub.TaskID),
		asynq.Queue(route),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Bind は taskName のタスクを fn に配送します。
func (a *Asynq) Bind(taskName string, fn jobs.TaskFunc) error {
	a.mux.HandleFunc(taskName, func(ctx context.Context, t *asynq.Task) error {
		taskID, _ := asynq.GetTaskID(ctx)
		queue, _ := asynq.GetQueueName(ctx)
		task, err := jobs.DecodePayload(t.Type(), taskID, queue, t.Payload())
		if err != nil {
			// 壊れたペイロードは再試行しても直らない
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := fn(ctx, task); err != nil {
			if errors.Is(err, jobs.ErrAlreadyFinished) {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	})
	return nil
}

// Cancel は実行中のタスクに取り消しを通知し、未実行のタスクは削除します。
func (a *Asynq) Cancel(ctx context.Context, route, taskID string) error {
	if err := a.inspector.CancelProcessing(taskID); err != nil {
		return fmt.Errorf("cancel processing %s: %w", taskID, err)
	}
	if err := a.inspector.DeleteTask(route, taskID); err != nil &&
		!errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

// Run はワーカーサーバーを起動し、ctx がキャンセルされるまでブロックします。
func (a *Asynq) Run(ctx context.Context) error {
	if err := a.server.Start(a.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	a.logger.Info("asynq server started")
	<-ctx.Done()
	a.server.Shutdown()
	a.logger.Info("asynq server stopped")
	return nil
}

// Close はクライアントとインスペクターを閉じます。
func (a *Asynq) Close() error {
	return errors.Join(a.client.Close(), a.inspector.Close())
}
