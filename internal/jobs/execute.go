package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Execute はタスク名から登録済みハンドラーを探し、実行ラッパー経由で呼び出します。
// キューを介さずにワーカー処理を直接呼ぶ場合に使います。
func (c *Controller) Execute(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	for _, name := range c.registry.Names() {
		bound, _ := c.registry.Lookup(name)
		if bound.TaskName == task.Name {
			return c.execute(ctx, bound, task)
		}
	}
	return &HandlerError{JobType: task.Name, Err: ErrNoHandlerRegistered}
}

// resolve は実行対象のレコードをストアから取得します。
// 同一プロセスから参照が渡された場合も、その参照にストアの内容を読み直します。
func (c *Controller) resolve(ctx context.Context, bound *BoundHandler, task *Task) (Job, error) {
	job := task.Live()
	if job == nil || TypeName(job) != bound.TypeName {
		job = bound.New()
	}
	if err := c.store.Get(ctx, job, task.JobID); err != nil {
		return nil, err
	}
	return job, nil
}

// execute はワーカー側の実行ラッパーです。
//
//  1. レコードをストアから読み直す
//  2. started に遷移して started_at を保存
//  3. ハンドラーを呼ぶ
//  4. 正常終了ならレコードを読み直し、取り消されていなければ success と ended_at を保存
//  5. 失敗ならレコードを再度読み直し、failure・error_message・ended_at を保存してエラーを返す
//
// 各ステップは変更した列のみを個別に保存します。
func (c *Controller) execute(ctx context.Context, bound *BoundHandler, task *Task) (err error) {
	ctx, span := c.tracer.Start(ctx, "jobs.execute", trace.WithAttributes(
		attribute.String("job.type", bound.TypeName),
		attribute.Int64("job.id", int64(task.JobID)),
		attribute.String("job.task_id", task.ID),
		attribute.String("job.route", task.Route),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := c.logger.With(
		zap.String("job_type", bound.TypeName),
		zap.Uint("job_id", task.JobID),
		zap.String("task_id", task.ID),
	)

	job, err := c.resolve(ctx, bound, task)
	if err != nil {
		log.Error("job could not be resolved", zap.Error(err))
		return err
	}
	rec := job.JobRecord()

	switch rec.Status {
	case StatusFailure:
		// 失敗済みジョブの再配送はキュー側でも失敗として扱わせる
		log.Warn("failed job redelivered", zap.String("status", string(rec.Status)))
		return fmt.Errorf("%s %d is %s: %w", bound.TypeName, rec.ID, rec.Status, ErrAlreadyFinished)
	case StatusSuccess, StatusRevoked:
		log.Info("job skipped", zap.String("status", string(rec.Status)))
		return nil
	}

	startedAt := c.now()
	if err := c.store.Update(ctx, job, rec.ID, Fields{
		"status":     StatusStarted,
		"started_at": startedAt,
		"updated_at": startedAt,
	}); err != nil {
		log.Error("job start could not be saved", zap.Error(err))
		return err
	}
	rec.Status = StatusStarted
	rec.StartedAt = &startedAt
	rec.UpdatedAt = startedAt
	c.metrics.observeTransition(bound.TypeName, StatusStarted)
	if d, ok := rec.WaitTime(); ok {
		c.metrics.observeWait(bound.TypeName, d)
	}
	log.Info("job started")

	if runErr := c.invoke(ctx, bound, task, job); runErr != nil {
		if failErr := c.fail(ctx, bound, task, runErr); failErr != nil {
			log.Error("job failure could not be saved", zap.Error(failErr), zap.NamedError("cause", runErr))
			return errors.Join(runErr, failErr)
		}
		log.Error("job failed", zap.Error(runErr))
		return runErr
	}

	// 実行中に取り消された場合は revoked のまま残す
	current := bound.New()
	if err := c.store.Get(ctx, current, rec.ID); err != nil {
		log.Error("job could not be reloaded after run", zap.Error(err))
		return err
	}
	if current.JobRecord().Status == StatusRevoked {
		rec.Status = StatusRevoked
		log.Info("job revoked while running, success not recorded")
		return nil
	}

	endedAt := c.now()
	if err := c.store.Update(ctx, job, rec.ID, Fields{
		"status":     StatusSuccess,
		"ended_at":   endedAt,
		"updated_at": endedAt,
	}); err != nil {
		log.Error("job success could not be saved", zap.Error(err))
		return err
	}
	rec.Status = StatusSuccess
	rec.EndedAt = &endedAt
	rec.UpdatedAt = endedAt
	c.metrics.observeTransition(bound.TypeName, StatusSuccess)
	if d, ok := rec.RunningTime(); ok {
		c.metrics.observeRunning(bound.TypeName, d)
		log.Info("job succeeded", zap.Duration("running_time", d))
	}
	return nil
}

// invoke はハンドラーを呼び、panic を PanicError に変換します。
func (c *Controller) invoke(ctx context.Context, bound *BoundHandler, task *Task, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return bound.run(ctx, task, job)
}

// fail はハンドラーの失敗を記録します。
// ハンドラーが手元の参照を中途半端な状態にしている可能性があるため、レコードは改めて読み直します。
// 手元の参照でハンドラーが保存していない変更は破棄されます（既知の競合、マージはしません）。
func (c *Controller) fail(ctx context.Context, bound *BoundHandler, task *Task, cause error) error {
	job, err := c.resolve(ctx, bound, task)
	if err != nil {
		return fmt.Errorf("reload after failure: %w", err)
	}
	rec := job.JobRecord()
	if rec.Status == StatusRevoked {
		return nil
	}
	msg := FormatError(cause)
	endedAt := c.now()
	if err := c.store.Update(ctx, job, rec.ID, Fields{
		"status":        StatusFailure,
		"error_message": msg,
		"ended_at":      endedAt,
		"updated_at":    endedAt,
	}); err != nil {
		return err
	}
	rec.Status = StatusFailure
	rec.ErrorMessage = &msg
	rec.EndedAt = &endedAt
	rec.UpdatedAt = endedAt
	c.metrics.observeTransition(bound.TypeName, StatusFailure)
	if d, ok := rec.RunningTime(); ok {
		c.metrics.observeRunning(bound.TypeName, d)
	}
	return nil
}
