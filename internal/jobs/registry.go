package jobs

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc はジョブ種別ごとのアプリケーション処理です。
// job には実行ラッパーがストアから読み直したレコードが渡されます。
type HandlerFunc[PT Job] func(ctx context.Context, task *Task, job PT) error

// BoundHandler は実行ラッパーで包まれ、キューに公開されたハンドラーです。
type BoundHandler struct {
	// TypeName は具象ジョブの型名です。
	TypeName string
	// TaskName はキュー上の名前（"<TypeName>.handler"）です。
	TaskName string
	// DefaultRoute は投入時にルート指定がない場合のキュー名です。
	DefaultRoute string

	newJob func() Job
	run    func(ctx context.Context, task *Task, job Job) error
}

// New は空のジョブモデルを作成します。
func (b *BoundHandler) New() Job {
	return b.newJob()
}

// HandlerOption はハンドラー登録時の設定です。
type HandlerOption func(*BoundHandler)

// WithDefaultRoute はジョブ種別の既定キューを設定します。
func WithDefaultRoute(route string) HandlerOption {
	return func(b *BoundHandler) {
		b.DefaultRoute = route
	}
}

// TypeName はジョブモデルの型名をポインターを外して返します。
func TypeName(job any) string {
	t := reflect.TypeOf(job)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// TaskNameFor はジョブ種別のタスク名を返します。
func TaskNameFor(typeName string) string {
	return typeName + ".handler"
}

// Registry はジョブ種別とハンドラーの対応表です。
// 起動時に登録し、Seal 以降は読み取り専用として扱います。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*BoundHandler
	sealed   bool
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]*BoundHandler),
	}
}

func (r *Registry) add(b *BoundHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return &HandlerError{JobType: b.TypeName, Err: ErrRegistrySealed}
	}
	if _, exists := r.handlers[b.TypeName]; exists {
		return &HandlerError{JobType: b.TypeName, Err: ErrHandlerAlreadyRegistered}
	}
	r.handlers[b.TypeName] = b
	return nil
}

func (r *Registry) remove(typeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, typeName)
}

// Lookup は型名に対応するハンドラーを返します。
func (r *Registry) Lookup(typeName string) (*BoundHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.handlers[typeName]
	return b, ok
}

// Seal 以降の登録は ErrRegistrySealed になります。
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Names は登録済みの型名を昇順で返します。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes は登録済みハンドラーが使う既定キュー名の一覧です。
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	routes := make([]string, 0, len(r.handlers))
	for _, b := range r.handlers {
		if _, ok := seen[b.DefaultRoute]; ok {
			continue
		}
		seen[b.DefaultRoute] = struct{}{}
		routes = append(routes, b.DefaultRoute)
	}
	sort.Strings(routes)
	return routes
}

// Register は T 型のジョブにハンドラーを1つだけ結び付けます。
// fn は実行ラッパーで包まれ、"<T>.handler" としてキューに公開されます。
// 同じ型への2回目の登録は ErrHandlerAlreadyRegistered になります。
func Register[T any, PT interface {
	*T
	Job
}](c *Controller, fn HandlerFunc[PT], opts ...HandlerOption) (*BoundHandler, error) {
	typeName := TypeName((*T)(nil))
	b := &BoundHandler{
		TypeName:     typeName,
		TaskName:     TaskNameFor(typeName),
		DefaultRoute: c.defaultRoute,
		newJob: func() Job {
			return PT(new(T))
		},
		run: func(ctx context.Context, task *Task, job Job) error {
			return fn(ctx, task, job.(PT))
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.DefaultRoute == "" {
		b.DefaultRoute = DefaultRoute
	}

	if err := c.registry.add(b); err != nil {
		return nil, err
	}
	if err := c.queue.Bind(b.TaskName, func(ctx context.Context, task *Task) error {
		return c.execute(ctx, b, task)
	}); err != nil {
		c.registry.remove(typeName)
		return nil, err
	}
	c.logger.Debug("job handler registered",
		zap.String("job_type", typeName),
		zap.String("task_name", b.TaskName),
		zap.String("route", b.DefaultRoute),
	)
	return b, nil
}

// MustRegister は Register の失敗時に panic します。起動処理での利用を想定しています。
func MustRegister[T any, PT interface {
	*T
	Job
}](c *Controller, fn HandlerFunc[PT], opts ...HandlerOption) *BoundHandler {
	b, err := Register[T, PT](c, fn, opts...)
	if err != nil {
		panic(err)
	}
	return b
}
