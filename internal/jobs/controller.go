package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/yourusername/job-tracker/internal/jobs"

// Controller はジョブの状態遷移とハンドラー登録を管理します。
type Controller struct {
	store        Store
	queue        Queue
	registry     *Registry
	logger       *zap.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	now          func() time.Time
	newTaskID    func() string
	defaultRoute string
}

// Option は Controller の設定です。
type Option func(*Controller)

// WithLogger はロガーを設定します。
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics はメトリクスの記録先を設定します。
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithTracer は実行ラッパーが使う Tracer を設定します。
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock は時刻の取得元を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTaskIDGenerator はタスクIDの生成方法を差し替えます。
func WithTaskIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newTaskID = gen
		}
	}
}

// WithDefaultQueue は種別ごとの指定がない場合の既定キューを設定します。
func WithDefaultQueue(route string) Option {
	return func(c *Controller) {
		c.defaultRoute = route
	}
}

// NewController は Controller を初期化します。
func NewController(store Store, queue Queue, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if queue == nil {
		return nil, errors.New("queue is nil")
	}
	c := &Controller{
		store:        store,
		queue:        queue,
		registry:     NewRegistry(),
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		now:          func() time.Time { return time.Now().UTC() },
		newTaskID:    func() string { return uuid.NewString() },
		defaultRoute: DefaultRoute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Registry は登録済みハンドラーの対応表を返します。
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Seal は起動処理の完了を示し、以降のハンドラー登録を拒否します。
func (c *Controller) Seal() {
	c.registry.Seal()
}

// Lookup はジョブの型に対応するハンドラーを返します。
func (c *Controller) Lookup(job Job) (*BoundHandler, bool) {
	return c.registry.Lookup(TypeName(job))
}

// LookupName は型名に対応するハンドラーを返します。
func (c *Controller) LookupName(typeName string) (*BoundHandler, bool) {
	return c.registry.Lookup(typeName)
}

// TypeNames は登録済みのジョブ種別名を昇順で返します。
func (c *Controller) TypeNames() []string {
	return c.registry.Names()
}

// Create は new 状態のジョブレコードを作成します。
func (c *Controller) Create(ctx context.Context, job Job) error {
	rec := job.JobRecord()
	rec.Status = StatusNew
	rec.TaskID = nil
	rec.StartedAt = nil
	rec.EndedAt = nil
	rec.ErrorMessage = nil
	return c.store.Create(ctx, job)
}

type enqueueOptions struct {
	args   []any
	kwargs map[string]any
	route  string
}

// EnqueueOption は投入時の引数とルートを指定します。
type EnqueueOption func(*enqueueOptions)

// WithArgs はハンドラーへ渡す位置引数を指定します。
func WithArgs(args ...any) EnqueueOption {
	return func(o *enqueueOptions) {
		o.args = append(o.args, args...)
	}
}

// WithKwargs はハンドラーへ渡すキーワード引数を指定します。
func WithKwargs(kwargs map[string]any) EnqueueOption {
	return func(o *enqueueOptions) {
		if o.kwargs == nil {
			o.kwargs = make(map[string]any, len(kwargs))
		}
		for k, v := range kwargs {
			o.kwargs[k] = v
		}
	}
}

// WithRoute は投入先のキューを指定します。
func WithRoute(route string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.route = route
	}
}

// Enqueue はジョブを pending にしてキューへ投入します。
// ハンドラー未登録の場合はレコードに触れずに ErrNoHandlerRegistered を返します。
// 完了までは待ちません。
func (c *Controller) Enqueue(ctx context.Context, job Job, opts ...EnqueueOption) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	bound, ok := c.Lookup(job)
	if !ok {
		return &HandlerError{JobType: TypeName(job), Err: ErrNoHandlerRegistered}
	}
	rec := job.JobRecord()
	if rec.ID == 0 {
		return ErrMissingJobID
	}

	o := &enqueueOptions{}
	for _, opt := range opts {
		opt(o)
	}
	route := o.route
	if route == "" {
		route = bound.DefaultRoute
	}

	taskID := c.newTaskID()
	now := c.now()
	if err := c.store.Update(ctx, job, rec.ID, Fields{
		"task_id":    taskID,
		"status":     StatusPending,
		"updated_at": now,
	}); err != nil {
		return err
	}
	previous := rec.Status
	rec.TaskID = &taskID
	rec.Status = StatusPending
	rec.UpdatedAt = now
	c.metrics.observeTransition(bound.TypeName, StatusPending)

	c.logger.Info("job enqueued",
		zap.String("job_type", bound.TypeName),
		zap.Uint("job_id", rec.ID),
		zap.String("task_id", taskID),
		zap.String("route", route),
		zap.String("previous_status", string(previous)),
	)

	_, err := c.queue.Submit(ctx, &Submission{
		TaskName: bound.TaskName,
		TaskID:   taskID,
		Route:    route,
		JobID:    rec.ID,
		Args:     o.args,
		Kwargs:   o.kwargs,
		Job:      job,
	})
	if err != nil {
		c.logger.Error("job submission failed",
			zap.String("job_type", bound.TypeName),
			zap.Uint("job_id", rec.ID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return fmt.Errorf("submit %s: %w", bound.TaskName, err)
	}
	return nil
}

// Revoke は pending / started のジョブを外部から取り消します。
// キューが Canceler を実装していればタスクの取り消しも依頼します。
func (c *Controller) Revoke(ctx context.Context, job Job) error {
	rec := job.JobRecord()
	if err := c.store.Get(ctx, job, rec.ID); err != nil {
		return err
	}
	if !rec.IsBusy() {
		return fmt.Errorf("%s %d is %s: %w", TypeName(job), rec.ID, rec.Status, ErrInvalidTransition)
	}
	if canceler, ok := c.queue.(Canceler); ok && rec.TaskID != nil {
		route := DefaultRoute
		if bound, found := c.Lookup(job); found {
			route = bound.DefaultRoute
		}
		if err := canceler.Cancel(ctx, route, *rec.TaskID); err != nil {
			c.logger.Warn("task cancellation failed",
				zap.String("job_type", TypeName(job)),
				zap.Uint("job_id", rec.ID),
				zap.Error(err),
			)
		}
	}
	now := c.now()
	if err := c.store.Update(ctx, job, rec.ID, Fields{
		"status":     StatusRevoked,
		"updated_at": now,
	}); err != nil {
		return err
	}
	rec.Status = StatusRevoked
	rec.UpdatedAt = now
	c.metrics.observeTransition(TypeName(job), StatusRevoked)
	c.logger.Info("job revoked", zap.String("job_type", TypeName(job)), zap.Uint("job_id", rec.ID))
	return nil
}

// Load は型名と ID からジョブを読み込みます。
func (c *Controller) Load(ctx context.Context, typeName string, id uint) (Job, error) {
	bound, ok := c.registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", typeName, ErrUnknownJobType)
	}
	job := bound.New()
	if err := c.store.Get(ctx, job, id); err != nil {
		return nil, err
	}
	return job, nil
}

// Refresh はメモリ上のジョブをストアの内容で読み直します。
func (c *Controller) Refresh(ctx context.Context, job Job) error {
	return c.store.Get(ctx, job, job.JobRecord().ID)
}

// List は型名のジョブを新しい順に返します。
func (c *Controller) List(ctx context.Context, typeName string, opts ListOpts) ([]Record, error) {
	bound, ok := c.registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", typeName, ErrUnknownJobType)
	}
	return c.store.List(ctx, bound.New(), opts)
}

// Latest は型名のジョブのうち最も新しく作成されたものを返します。
func (c *Controller) Latest(ctx context.Context, typeName string) (*Record, error) {
	records, err := c.List(ctx, typeName, ListOpts{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("latest %s: %w", typeName, ErrJobNotFound)
	}
	return &records[0], nil
}
