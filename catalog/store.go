package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/imageflow/imaging"
	"github.com/BaSui01/imageflow/internal/database"
	"github.com/BaSui01/imageflow/storage"
)

const (
	importRetries   = 3
	importBatchSize = 100
)

// ErrNotFound 目录中不存在该条目
var ErrNotFound = errors.New("catalog entry not found")

// Catalog 图像目录与 prompt 历史
type Catalog interface {
	AddImage(ctx context.Context, img *Image) error
	AddImageFile(ctx context.Context, rel, alt, referenceSrc string) (*Image, error)
	ListImages(ctx context.Context, isUpload *bool, limit int) ([]Image, error)
	FindBySrc(ctx context.Context, src string) (*Image, error)
	ReferenceID(ctx context.Context, src string) (int64, error)
	DeleteBySrc(ctx context.Context, src string) error
	AddPrompt(ctx context.Context, prompt, referenceSrc string) (*History, error)
	ListHistory(ctx context.Context, limit int) ([]History, error)
	Import(ctx context.Context, rels []string, alt string) (int, error)
}

// =============================================================================
// 🗂️ Store
// =============================================================================

// Transactor 执行事务，由 database.PoolManager 实现
type Transactor interface {
	WithTransaction(ctx context.Context, fn database.TransactionFunc) error
	WithTransactionRetry(ctx context.Context, maxRetries int, fn database.TransactionFunc) error
}

var _ Transactor = (*database.PoolManager)(nil)

// gormTransactor 直接在 *gorm.DB 上开事务
type gormTransactor struct {
	db     *gorm.DB
	logger *zap.Logger
}

func (t gormTransactor) WithTransaction(ctx context.Context, fn database.TransactionFunc) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

func (t gormTransactor) WithTransactionRetry(ctx context.Context, maxRetries int, fn database.TransactionFunc) error {
	return database.RetryTransaction(ctx, t.db, maxRetries, t.logger, fn)
}

// Store 基于 gorm 的目录实现
type Store struct {
	db     *gorm.DB
	tx     Transactor
	layout *storage.Layout
	logger *zap.Logger
}

var _ Catalog = (*Store)(nil)

// NewStore 创建目录存储
func NewStore(db *gorm.DB, layout *storage.Layout, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "catalog"))
	return &Store{
		db:     db,
		tx:     gormTransactor{db: db, logger: logger},
		layout: layout,
		logger: logger,
	}
}

// UseTransactor 改由 t 执行事务，t 须与 Store 使用同一个数据库
func (s *Store) UseTransactor(t Transactor) *Store {
	if t != nil {
		s.tx = t
	}
	return s
}

// AddImage 插入一条图像记录，IsUpload 由路径推断
func (s *Store) AddImage(ctx context.Context, img *Image) error {
	img.IsUpload = s.layout.IsUpload(img.Src)
	if img.Time.IsZero() {
		img.Time = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("add image %s: %w", img.Src, err)
	}
	return nil
}

// AddImageFile 读取文件尺寸与修改时间后登记入目录
func (s *Store) AddImageFile(ctx context.Context, rel, alt, referenceSrc string) (*Image, error) {
	ref, err := s.ReferenceID(ctx, referenceSrc)
	if err != nil {
		return nil, err
	}
	img, err := s.describeFile(rel, alt, ref)
	if err != nil {
		return nil, err
	}
	if err := s.AddImage(ctx, img); err != nil {
		return nil, err
	}
	return img, nil
}

func (s *Store) describeFile(rel, alt string, ref int64) (*Image, error) {
	abs, err := s.layout.Resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	width, height, err := imaging.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &Image{
		Src:            rel,
		Alt:            alt,
		Width:          width,
		Height:         height,
		IsUpload:       s.layout.IsUpload(rel),
		Time:           info.ModTime(),
		ReferenceImage: ref,
	}, nil
}

// ListImages 按时间倒序列出图像；isUpload 为 nil 时返回全部，limit <= 0 不限制
func (s *Store) ListImages(ctx context.Context, isUpload *bool, limit int) ([]Image, error) {
	q := s.db.WithContext(ctx).Model(&Image{}).Order("time DESC").Order("id DESC")
	if isUpload != nil {
		q = q.Where("is_upload = ?", *isUpload)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Image
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return out, nil
}

// FindBySrc 按 src 查找
func (s *Store) FindBySrc(ctx context.Context, src string) (*Image, error) {
	return findBySrc(s.db.WithContext(ctx), src)
}

func findBySrc(db *gorm.DB, src string) (*Image, error) {
	var img Image
	err := db.Where("src = ?", src).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ReferenceID 返回 src 对应的 id；src 为空或不存在时返回 NoReference
func (s *Store) ReferenceID(ctx context.Context, src string) (int64, error) {
	return referenceID(s.db.WithContext(ctx), src)
}

func referenceID(db *gorm.DB, src string) (int64, error) {
	if src == "" {
		return NoReference, nil
	}
	img, err := findBySrc(db, src)
	if errors.Is(err, ErrNotFound) {
		return NoReference, nil
	}
	if err != nil {
		return NoReference, err
	}
	return img.ID, nil
}

// DeleteBySrc 删除目录条目
func (s *Store) DeleteBySrc(ctx context.Context, src string) error {
	res := s.db.WithContext(ctx).Where("src = ?", src).Delete(&Image{})
	if res.Error != nil {
		return fmt.Errorf("delete image %s: %w", src, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	return nil
}

// AddPrompt 记录一条 prompt 历史，参考图查找与写入在同一事务中
func (s *Store) AddPrompt(ctx context.Context, prompt, referenceSrc string) (*History, error) {
	h := &History{Prompt: prompt, Time: time.Now()}
	err := s.tx.WithTransaction(ctx, func(tx *gorm.DB) error {
		ref, err := referenceID(tx, referenceSrc)
		if err != nil {
			return err
		}
		h.ReferenceImage = ref
		return tx.Create(h).Error
	})
	if err != nil {
		return nil, fmt.Errorf("add prompt: %w", err)
	}
	return h, nil
}

// ListHistory 按时间倒序列出 prompt 历史
func (s *Store) ListHistory(ctx context.Context, limit int) ([]History, error) {
	q := s.db.WithContext(ctx).Order("time DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []History
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// Import 批量登记尚未入目录的文件，返回新增条目数。
// 无法读取的文件只记录日志；其余文件在一个事务中写入，遇到锁冲突时重试。
func (s *Store) Import(ctx context.Context, rels []string, alt string) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}
	var existing []string
	if err := s.db.WithContext(ctx).Model(&Image{}).Where("src IN ?", rels).Pluck("src", &existing).Error; err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, src := range existing {
		known[src] = struct{}{}
	}

	var batch []Image
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, ok := known[rel]; ok {
			continue
		}
		img, err := s.describeFile(rel, alt, NoReference)
		if err != nil {
			s.logger.Warn("skip file during import", zap.String("src", rel), zap.Error(err))
			continue
		}
		known[rel] = struct{}{}
		batch = append(batch, *img)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var added int64
	err := s.tx.WithTransactionRetry(ctx, importRetries, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&batch, importBatchSize)
		added = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	s.logger.Info("import finished", zap.Int("candidates", len(rels)), zap.Int64("added", added))
	return int(added), nil
}
