package jobs

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Fields は列名と値の組です。部分更新に使います。
type Fields map[string]any

// ListOpts は一覧取得の条件です。
type ListOpts struct {
	// Limit が 0 の場合は上限なしです。
	Limit  int
	Offset int
	// Status が空の場合は全ステータスです。
	Status Status
	// OrderBy が空の場合は DefaultOrder を使います。
	OrderBy string
}

// DefaultOrder は一覧取得時の既定の並び順（新しい順）です。
const DefaultOrder = "created_at DESC, id DESC"

// Store はジョブレコードの永続化層です。
type Store interface {
	// Create は新しいレコードを作成し、ID を job に設定します。
	Create(ctx context.Context, job Job) error
	// Get は id のレコードを dst に読み込みます。存在しない場合は ErrJobNotFound を返します。
	Get(ctx context.Context, dst Job, id uint) error
	// Update は指定した列のみを更新します。存在しない場合は ErrJobNotFound を返します。
	Update(ctx context.Context, model Job, id uint, fields Fields) error
	// List は model と同じ種別のレコードを ListOpts に従って返します。
	List(ctx context.Context, model Job, opts ListOpts) ([]Record, error)
}

// GormStore は GORM を使った Store 実装です。
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore は GormStore を作成します。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB は内部の *gorm.DB を返します。
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate は指定したジョブモデルのテーブルを作成・更新します。
func (s *GormStore) Migrate(models ...Job) error {
	for _, m := range models {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("migrate %s: %w", TypeName(m), err)
		}
	}
	return nil
}

// Create は status 未設定のレコードを new として作成します。
func (s *GormStore) Create(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	rec := job.JobRecord()
	if rec.Status == "" {
		rec.Status = StatusNew
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create %s: %w", TypeName(job), err)
	}
	return nil
}

// Get は id のレコードを dst に読み込みます。
func (s *GormStore) Get(ctx context.Context, dst Job, id uint) error {
	if id == 0 {
		return ErrMissingJobID
	}
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(dst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%s %d: %w", TypeName(dst), id, ErrJobNotFound)
		}
		return fmt.Errorf("get %s %d: %w", TypeName(dst), id, err)
	}
	return nil
}

// Update は fields に含まれる列と updated_at のみを書き込みます。
// 行全体は上書きしないため、ハンドラーが並行して保存したペイロード列は保持されます。
func (s *GormStore) Update(ctx context.Context, model Job, id uint, fields Fields) error {
	if id == 0 {
		return ErrMissingJobID
	}
	if len(fields) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Updates(map[string]any(fields))
	if res.Error != nil {
		return fmt.Errorf("update %s %d: %w", TypeName(model), id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", TypeName(model), id, ErrJobNotFound)
	}
	return nil
}

// List は model のテーブルから Record 列のみを読み出します。
func (s *GormStore) List(ctx context.Context, model Job, opts ListOpts) ([]Record, error) {
	order := opts.OrderBy
	if order == "" {
		order = DefaultOrder
	}
	q := s.db.WithContext(ctx).Model(model).Order(order)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	var records []Record
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", TypeName(model), err)
	}
	return records, nil
}
