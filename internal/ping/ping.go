// Package ping はデプロイ確認用のジョブ種別 PingJob を提供します。
// API から投入し、ワーカーで応答文字列を書き込むだけの最小のジョブです。
package ping

import (
	"context"
	"errors"
	"strings"

	"github.com/yourusername/job-tracker/internal/jobs"
)

// TypeName はジョブ種別名です。
const TypeName = "PingJob"

// ErrEmptyNote は note が空の場合のエラーです。
var ErrEmptyNote = errors.New("ping: note is empty")

// PingJob は応答確認用のジョブです。
type PingJob struct {
	jobs.Record
	Note  string  `gorm:"size:255" json:"note"`
	Reply *string `gorm:"size:512" json:"reply,omitempty"`
}

// Handler は PingJob を処理します。
type Handler struct {
	store jobs.Store
}

// NewHandler は Handler を作成します。
func NewHandler(store jobs.Store) *Handler {
	return &Handler{store: store}
}

// Handle は note に応答を書き込みます。
// kwargs の "uppercase" が true なら大文字に、"fail" が文字列ならそのメッセージで失敗します。
func (h *Handler) Handle(ctx context.Context, task *jobs.Task, job *PingJob) error {
	if msg, ok := task.Kwargs["fail"].(string); ok && msg != "" {
		return errors.New(msg)
	}
	note := strings.TrimSpace(job.Note)
	if note == "" {
		return ErrEmptyNote
	}
	reply := "pong: " + note
	if upper, _ := task.Kwargs["uppercase"].(bool); upper {
		reply = strings.ToUpper(reply)
	}
	job.Reply = &reply
	return h.store.Update(ctx, job, job.ID, jobs.Fields{"reply": reply})
}

// Register は PingJob のハンドラーを登録します。
func Register(c *jobs.Controller, store jobs.Store, opts ...jobs.HandlerOption) (*jobs.BoundHandler, error) {
	return jobs.Register[PingJob](c, NewHandler(store).Handle, opts...)
}

// Models はマイグレーション対象のモデルです。
func Models() []jobs.Job {
	return []jobs.Job{&PingJob{}}
}
