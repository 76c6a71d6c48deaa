package jobs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandlerAlreadyRegistered は同じジョブ種別に2つ目のハンドラーを登録しようとした場合のエラーです。
	ErrHandlerAlreadyRegistered = errors.New("jobs: handler already registered")
	// ErrNoHandlerRegistered はハンドラー未登録のジョブを投入しようとした場合のエラーです。
	ErrNoHandlerRegistered = errors.New("jobs: no handler registered")
	// ErrRegistrySealed は起動処理の完了後にハンドラーを登録しようとした場合のエラーです。
	ErrRegistrySealed = errors.New("jobs: registry is sealed")

	// ErrJobNotFound は指定IDのジョブレコードが存在しない場合のエラーです。
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrInvalidTransition は現在のステータスから許されない遷移を求めた場合のエラーです。
	ErrInvalidTransition = errors.New("jobs: invalid status transition")
	// ErrUnknownJobType はハンドラー未登録の型名で参照した場合のエラーです。
	ErrUnknownJobType = errors.New("jobs: unknown job type")
	// ErrMissingJobID は保存前のジョブを投入しようとした場合のエラーです。
	ErrMissingJobID = errors.New("jobs: job id is required")
	// ErrAlreadyFinished は failure で終了済みのジョブが再配送された場合のエラーです。
	ErrAlreadyFinished = errors.New("jobs: job already finished")
)

// HandlerError はハンドラー登録に関する設定ミスを表します。
// errors.Is で元のセンチネルエラーと比較できます。
type HandlerError struct {
	JobType string
	Err     error
}

func (e *HandlerError) Error() string {
	switch {
	case errors.Is(e.Err, ErrHandlerAlreadyRegistered):
		return fmt.Sprintf("job handler already registered: cannot register more than one handler for %s", e.JobType)
	case errors.Is(e.Err, ErrNoHandlerRegistered):
		return fmt.Sprintf("no handler registered for %s", e.JobType)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.JobType)
	}
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError はハンドラー内の panic を error として表現します。
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// FormatError はエラーの型とメッセージを1行に整形します。
// 複数行のメッセージは先頭行のみ残します。
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	typeName := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return typeName + "\n"
	}
	return typeName + ": " + msg + "\n"
}
