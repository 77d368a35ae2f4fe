package transform

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/inference"
	"github.com/BaSui01/imageflow/rescache"
	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/weights"
)

// =============================================================================
// 🔍 Real-ESRGAN 超分
// =============================================================================

// 超分参数
const (
	DefaultUpscale = 2.0
	MaxUpscale     = 4.0
	netScale       = 4
)

// WeightFetcher 获取本地权重路径，由 weights.Fetcher 实现
type WeightFetcher interface {
	Fetch(ctx context.Context, w weights.Weight) (string, error)
}

// UpscaleCache 超分模型缓存，false 为照片模型，true 为动漫模型
type UpscaleCache = rescache.Cache[bool, *inference.Session]

// NewUpscaleCache 创建超分模型缓存
func NewUpscaleCache(observer rescache.Observer, logger *zap.Logger) *UpscaleCache {
	return rescache.New[bool, *inference.Session]("upscale", rescache.Options[bool]{
		Logger:   logger,
		Observer: observer,
	})
}

// UpscaleConfig 超分配置
type UpscaleConfig struct {
	// 分块大小，按显存调整
	TileSize int
	// 分块重叠边界，减少拼接痕迹
	TileBorder  int
	Half        bool
	PhotoWeight weights.Weight
	AnimeWeight weights.Weight
}

// DefaultUpscaleConfig 返回默认超分配置
func DefaultUpscaleConfig() UpscaleConfig {
	return UpscaleConfig{
		TileSize:    300,
		TileBorder:  20,
		PhotoWeight: weights.RealESRGANx4Plus,
		AnimeWeight: weights.RealESRAnimeVideoV3,
	}
}

// Upscaler 照片 / 动漫超分
type Upscaler struct {
	cache   *UpscaleCache
	runner  *Runner
	fetcher WeightFetcher
	cfg     UpscaleConfig
	logger  *zap.Logger
}

// NewUpscaler 创建超分变换
func NewUpscaler(cache *UpscaleCache, runner *Runner, fetcher WeightFetcher, cfg UpscaleConfig, logger *zap.Logger) *Upscaler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upscaler{
		cache:   cache,
		runner:  runner,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "upscaler")),
	}
}

// Session 返回超分模型会话，首次访问时下载权重并装载
func (u *Upscaler) Session(ctx context.Context, forAnime bool) (*inference.Session, error) {
	return u.cache.GetOrCreate(ctx, forAnime, u.builder(forAnime))
}

func (u *Upscaler) builder(forAnime bool) rescache.Builder[*inference.Session] {
	return func(ctx context.Context) (*inference.Session, error) {
		weight, arch := u.cfg.PhotoWeight, photoArch()
		variant := "photo"
		if forAnime {
			weight, arch = u.cfg.AnimeWeight, animeArch()
			variant = "anime"
		}
		path, err := u.fetcher.Fetch(ctx, weight)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", weight.Name, err)
		}
		return u.runner.Backend().Load(ctx, inference.LoadSpec{
			Family:      inference.FamilyRealESRGAN,
			Variant:     variant,
			WeightsPath: path,
			Arch:        arch,
			NetScale:    netScale,
			Tile:        u.cfg.TileSize,
			TilePad:     u.cfg.TileBorder,
			Half:        u.cfg.Half,
		})
	}
}

func photoArch() *inference.Arch {
	return &inference.Arch{
		Name:      "RRDBNet",
		NumInCh:   3,
		NumOutCh:  3,
		NumFeat:   64,
		NumBlock:  23,
		NumGrowCh: 32,
		Scale:     netScale,
	}
}

func animeArch() *inference.Arch {
	return &inference.Arch{
		Name:     "SRVGGNetCompact",
		NumInCh:  3,
		NumOutCh: 3,
		NumFeat:  64,
		NumConv:  16,
		Scale:    netScale,
		ActType:  "prelu",
	}
}

// Prefetch 预先装载照片与动漫两种模型
func (u *Upscaler) Prefetch(ctx context.Context) error {
	return u.cache.Prefetch(ctx, []bool{false, true}, u.builder)
}

// Loaded 返回已装载的模型键
func (u *Upscaler) Loaded() []bool {
	return u.cache.Keys()
}

// checkUpscale 超分倍数须位于 (0, MaxUpscale]
func checkUpscale(scale float64) error {
	if !(scale > 0 && scale <= MaxUpscale) {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("scale must be in (0, %g], got %g", MaxUpscale, scale))
	}
	return nil
}

// Upscale 将图像放大 scale 倍，scale 为 0 时使用默认值 2
func (u *Upscaler) Upscale(ctx context.Context, img image.Image, scale float64, forAnime bool) (image.Image, error) {
	if img == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "input image is required")
	}
	if scale == 0 {
		scale = DefaultUpscale
	}
	if err := checkUpscale(scale); err != nil {
		return nil, err
	}

	sess, err := u.Session(ctx, forAnime)
	if err != nil {
		return nil, err
	}
	return u.runner.Run(ctx, OpUpscale, sess, inference.RunRequest{
		Image:    img,
		OutScale: scale,
	})
}
