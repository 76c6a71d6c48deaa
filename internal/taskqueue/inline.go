package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yourusername/job-tracker/internal/jobs"
)

// Inline は同一プロセス内で完結する jobs.Queue 実装です。
// Eager の場合は Submit の中で即座に実行し、そうでない場合は Drain まで保留します。
type Inline struct {
	// Eager が true なら投入と同時に実行します。投入元のレコード参照も引き渡します。
	Eager bool
	// Propagate が true なら即時実行時のハンドラーエラーを Submit の戻り値にします。
	Propagate bool

	mu        sync.Mutex
	handlers  map[string]jobs.TaskFunc
	pending   []*jobs.Submission
	history   []jobs.Submission
	lastError error
}

var (
	_ jobs.Queue    = (*Inline)(nil)
	_ jobs.Canceler = (*Inline)(nil)
)

// NewInline は Inline キューを作成します。
func NewInline(eager bool) *Inline {
	return &Inline{
		Eager:    eager,
		handlers: make(map[string]jobs.TaskFunc),
	}
}

// Bind は taskName に fn を登録します。
func (q *Inline) Bind(taskName string, fn jobs.TaskFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]jobs.TaskFunc)
	}
	if _, exists := q.handlers[taskName]; exists {
		return fmt.Errorf("task %s already bound", taskName)
	}
	q.handlers[taskName] = fn
	return nil
}

// Submit は投入内容を記録し、Eager なら即座に実行します。
func (q *Inline) Submit(ctx context.Context, sub *jobs.Submission) (string, error) {
	if sub == nil {
		return "", fmt.Errorf("submission is nil")
	}
	q.mu.Lock()
	fn, ok := q.handlers[sub.TaskName]
	if !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("no task bound for %s", sub.TaskName)
	}
	q.history = append(q.history, *sub)
	if !q.Eager {
		q.pending = append(q.pending, sub)
	}
	q.mu.Unlock()

	if !q.Eager {
		return sub.TaskID, nil
	}

	err := fn(ctx, jobs.NewTask(sub, true))
	q.mu.Lock()
	q.lastError = err
	q.mu.Unlock()
	if err != nil && q.Propagate {
		return sub.TaskID, err
	}
	return sub.TaskID, nil
}

// Drain は保留中のタスクを投入順に実行します。
// 別プロセスのワーカーと同じく、レコード参照は渡さず JobID のみで実行します。
func (q *Inline) Drain(ctx context.Context) error {
	var errs []error
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		sub := q.pending[0]
		q.pending = q.pending[1:]
		fn := q.handlers[sub.TaskName]
		q.mu.Unlock()

		if err := fn(ctx, jobs.NewTask(sub, false)); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", sub.TaskName, sub.TaskID, err))
		}
	}
	return errors.Join(errs...)
}

// Cancel は保留中のタスクを取り除きます。
func (q *Inline) Cancel(ctx context.Context, route, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.pending {
		if sub.TaskID == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

// Pending は未実行のタスク数を返します。
func (q *Inline) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Submissions はこれまでに投入された内容を返します。
func (q *Inline) Submissions() []jobs.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]jobs.Submission, len(q.history))
	copy(out, q.history)
	return out
}

// LastError は直近の即時実行で発生したエラーを返します。
func (q *Inline) LastError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastError
}
