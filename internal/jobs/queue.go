package jobs

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultRoute はルート未指定時に使うキュー名です。
const DefaultRoute = "default"

// TaskFunc はタスク配送時にキューから呼び出される関数です。
type TaskFunc func(ctx context.Context, task *Task) error

// Queue はジョブを運ぶ外部タスクキューです。
type Queue interface {
	// Submit はタスクを投入し、キュー側のタスクIDを返します。
	Submit(ctx context.Context, sub *Submission) (string, error)
	// Bind は taskName のタスクが届いたときに fn を呼ぶよう登録します。
	Bind(taskName string, fn TaskFunc) error
}

// Canceler は投入済みタスクの取り消しに対応したキューです。
type Canceler interface {
	Cancel(ctx context.Context, route, taskID string) error
}

// Submission はキューへ渡す投入内容です。
// プロセス境界を越えるのは JobID のみで、Job は同一プロセス内のキューだけが参照します。
type Submission struct {
	TaskName string
	TaskID   string
	Route    string
	JobID    uint
	Args     []any
	Kwargs   map[string]any
	Job      Job
}

// Task はワーカーに届いたタスクです。
type Task struct {
	ID     string
	Name   string
	Route  string
	JobID  uint
	Args   []any
	Kwargs map[string]any

	live Job
}

// NewTask は Submission から配送用の Task を組み立てます。
// withLive が true の場合のみ、投入元のレコード参照を引き継ぎます。
func NewTask(sub *Submission, withLive bool) *Task {
	t := &Task{
		ID:     sub.TaskID,
		Name:   sub.TaskName,
		Route:  sub.Route,
		JobID:  sub.JobID,
		Args:   sub.Args,
		Kwargs: sub.Kwargs,
	}
	if withLive {
		t.live = sub.Job
	}
	return t
}

// Live は同一プロセス実行時に渡されたレコード参照を返します。
func (t *Task) Live() Job {
	return t.live
}

// TaskPayload はキュー上を流れるタスク本体です。
type TaskPayload struct {
	JobID  uint           `json:"jobId"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// EncodePayload は Submission をキュー用のペイロードに変換します。
func EncodePayload(sub *Submission) ([]byte, error) {
	if sub.JobID == 0 {
		return nil, ErrMissingJobID
	}
	return json.Marshal(TaskPayload{
		JobID:  sub.JobID,
		Args:   sub.Args,
		Kwargs: sub.Kwargs,
	})
}

// DecodePayload はキューから受け取ったペイロードを Task に復元します。
func DecodePayload(taskName, taskID, route string, body []byte) (*Task, error) {
	var payload TaskPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode payload for task %s: %w", taskName, err)
	}
	if payload.JobID == 0 {
		return nil, fmt.Errorf("missing jobId in payload for task %s: %w", taskName, ErrMissingJobID)
	}
	return &Task{
		ID:     taskID,
		Name:   taskName,
		Route:  route,
		JobID:  payload.JobID,
		Args:   payload.Args,
		Kwargs: payload.Kwargs,
	}, nil
}
