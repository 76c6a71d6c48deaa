package jobs

import "time"

// Status はジョブのライフサイクル上の位置を表します。
type Status string

const (
	StatusNew     Status = "new"
	StatusPending Status = "pending"
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRevoked Status = "revoked"
)

// Statuses は定義済みの全ステータスを遷移順に返します。
func Statuses() []Status {
	return []Status{StatusNew, StatusPending, StatusStarted, StatusSuccess, StatusFailure, StatusRevoked}
}

// Valid は定義済みのステータスかどうかを返します。
func (s Status) Valid() bool {
	for _, v := range Statuses() {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal は success / failure / revoked のいずれかであれば true を返します。
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// Record は全ジョブ種別に共通するライフサイクル列です。
// 具象ジョブのモデルに匿名フィールドとして埋め込みます（1種別1テーブル）。
//
//	type ReportJob struct {
//		jobs.Record
//		Name string
//	}
type Record struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Status       Status     `gorm:"size:32;not null;index" json:"status"`
	TaskID       *string    `gorm:"size:64;index" json:"taskId,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;index" json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
}

// JobRecord は埋め込み先の具象ジョブから Record を取り出すためのメソッドです。
func (r *Record) JobRecord() *Record {
	return r
}

// Job は Controller が扱えるジョブモデルです。Record を埋め込めば満たせます。
type Job interface {
	JobRecord() *Record
}

// IsBusy はキュー待ちまたは実行中であれば true を返します。
func (r *Record) IsBusy() bool {
	return r.Status == StatusPending || r.Status == StatusStarted
}

// WaitTime は作成から開始までの待ち時間を返します。
// 開始していない場合は false を返します。
func (r *Record) WaitTime() (time.Duration, bool) {
	if r.StartedAt == nil || r.CreatedAt.IsZero() {
		return 0, false
	}
	return r.StartedAt.Sub(r.CreatedAt), true
}

// RunningTime は開始から終了までの実行時間を返します。
// 終了していない場合は false を返します。
func (r *Record) RunningTime() (time.Duration, bool) {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0, false
	}
	return r.EndedAt.Sub(*r.StartedAt), true
}

// Summary は API レスポンス用のジョブ状態です。
type Summary struct {
	ID             uint       `json:"id"`
	Type           string     `json:"type"`
	Status         Status     `json:"status"`
	TaskID         *string    `json:"taskId,omitempty"`
	IsBusy         bool       `json:"isBusy"`
	WaitSeconds    *float64   `json:"waitSeconds"`
	RunningSeconds *float64   `json:"runningSeconds"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

// Summarize は Record を Summary に変換します。
func Summarize(typeName string, r *Record) Summary {
	s := Summary{
		ID:           r.ID,
		Type:         typeName,
		Status:       r.Status,
		TaskID:       r.TaskID,
		IsBusy:       r.IsBusy(),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
	}
	if d, ok := r.WaitTime(); ok {
		sec := d.Seconds()
		s.WaitSeconds = &sec
	}
	if d, ok := r.RunningTime(); ok {
		sec := d.Seconds()
		s.RunningSeconds = &sec
	}
	return s
}
