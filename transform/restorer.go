package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/inference"
	"github.com/BaSui01/imageflow/rescache"
	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/weights"
)

// =============================================================================
// 🙂 GFPGAN 人脸修复
// =============================================================================

// RestoreCache 人脸修复模型缓存，按放大倍数索引
type RestoreCache = rescache.Cache[float64, *inference.Session]

// NewRestoreCache 创建人脸修复缓存，只接受正的有限倍数
func NewRestoreCache(observer rescache.Observer, logger *zap.Logger) *RestoreCache {
	return rescache.New[float64, *inference.Session]("restore", rescache.Options[float64]{
		Validate: validScale,
		Logger:   logger,
		Observer: observer,
	})
}

func validScale(scale float64) error {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return errors.New("scale must be a positive finite number")
	}
	return nil
}

// RestoreConfig 人脸修复配置
type RestoreConfig struct {
	Weight weights.Weight
}

// DefaultRestoreConfig 返回默认人脸修复配置
func DefaultRestoreConfig() RestoreConfig {
	return RestoreConfig{Weight: weights.GFPGANv13}
}

// RestoreParams 人脸修复参数。Scale 为 0 时按 1 处理。
type RestoreParams struct {
	Scale          float64
	OnlyCenterFace bool
	Aligned        bool
}

// FaceRestorer 人脸修复；scale != 1 时由照片超分模型处理背景
type FaceRestorer struct {
	cache    *RestoreCache
	runner   *Runner
	fetcher  WeightFetcher
	upscaler *Upscaler
	cfg      RestoreConfig
	logger   *zap.Logger
}

// NewFaceRestorer 创建人脸修复变换
func NewFaceRestorer(cache *RestoreCache, runner *Runner, fetcher WeightFetcher, upscaler *Upscaler, cfg RestoreConfig, logger *zap.Logger) *FaceRestorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FaceRestorer{
		cache:    cache,
		runner:   runner,
		fetcher:  fetcher,
		upscaler: upscaler,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "face_restorer")),
	}
}

// Restorer 返回 scale 对应的修复模型会话
func (f *FaceRestorer) Restorer(ctx context.Context, scale float64) (*inference.Session, error) {
	return f.cache.GetOrCreate(ctx, scale, f.builder(scale))
}

func (f *FaceRestorer) builder(scale float64) rescache.Builder[*inference.Session] {
	return func(ctx context.Context) (*inference.Session, error) {
		path, err := f.fetcher.Fetch(ctx, f.cfg.Weight)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", f.cfg.Weight.Name, err)
		}
		spec := inference.LoadSpec{
			Family:      inference.FamilyGFPGAN,
			WeightsPath: path,
			Arch:        &inference.Arch{Name: "clean", ChannelMultiplier: 2},
			Upscale:     scale,
		}
		if scale != 1 {
			// 背景超分复用照片模型；GFPGAN 对动漫图效果不佳
			if f.upscaler == nil {
				return nil, fmt.Errorf("scale %g needs a background upsampler but upscaling is disabled", scale)
			}
			bg, err := f.upscaler.Session(ctx, false)
			if err != nil {
				return nil, fmt.Errorf("background upsampler: %w", err)
			}
			spec.BackgroundSession = bg.ID
		}
		return f.runner.Backend().Load(ctx, spec)
	}
}

// Prefetch 预先装载 1 倍修复模型
func (f *FaceRestorer) Prefetch(ctx context.Context) error {
	return f.cache.Prefetch(ctx, []float64{1}, f.builder)
}

// Loaded 返回已装载的倍数
func (f *FaceRestorer) Loaded() []float64 {
	return f.cache.Keys()
}

// Restore 修复图像中的人脸，结果贴回原图
func (f *FaceRestorer) Restore(ctx context.Context, img image.Image, p RestoreParams) (image.Image, error) {
	if img == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "input image is required")
	}
	if p.Scale == 0 {
		p.Scale = 1
	}
	sess, err := f.Restorer(ctx, p.Scale)
	if err != nil {
		return nil, err
	}
	return f.runner.Run(ctx, OpRestore, sess, inference.RunRequest{
		Image:          img,
		OnlyCenterFace: p.OnlyCenterFace,
		Aligned:        p.Aligned,
		PasteBack:      true,
	})
}
