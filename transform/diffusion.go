package transform

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/imaging"
	"github.com/BaSui01/imageflow/inference"
	"github.com/BaSui01/imageflow/rescache"
	"github.com/BaSui01/imageflow/types"
)

// =============================================================================
// 🎨 Stable Diffusion
// =============================================================================

// Kind 扩散管线种类
type Kind string

// 三种扩散管线
const (
	KindTxt2Img Kind = "txt2img"
	KindImg2Img Kind = "img2img"
	KindInpaint Kind = "inpaint"
)

// Kinds 所有扩散管线种类，Prefetch 使用
var Kinds = []Kind{KindTxt2Img, KindImg2Img, KindInpaint}

// 扩散默认参数
const (
	DefaultSteps    = 50
	DefaultGuidance = 7.5
	DefaultStrength = 0.75
	initImageEdge   = 512
)

// GenerationCache 扩散管线缓存，按 Kind 索引
type GenerationCache = rescache.Cache[Kind, *inference.Session]

// NewGenerationCache 创建只接受三种 Kind 的管线缓存
func NewGenerationCache(observer rescache.Observer, logger *zap.Logger) *GenerationCache {
	return rescache.New[Kind, *inference.Session]("generate", rescache.Options[Kind]{
		Validate: rescache.OneOf(Kinds...),
		Logger:   logger,
		Observer: observer,
	})
}

// DiffusionConfig 扩散模型配置
type DiffusionConfig struct {
	Model    string
	Revision string
	DType    string
	HFToken  string
}

// DefaultDiffusionConfig 返回默认扩散模型配置
func DefaultDiffusionConfig() DiffusionConfig {
	return DiffusionConfig{
		Model:    "CompVis/stable-diffusion-v1-4",
		Revision: "fp16",
		DType:    "float16",
	}
}

// GenerateParams 单次生成参数。Width / Height 仅用于 txt2img。
type GenerateParams struct {
	Prompt   string
	Init     image.Image
	Mask     image.Image
	Width    int
	Height   int
	Steps    int
	Guidance float64
	Eta      float64
	Strength *float64
}

// Diffusion 文生图 / 图生图 / 局部重绘
type Diffusion struct {
	cache  *GenerationCache
	runner *Runner
	cfg    DiffusionConfig
	logger *zap.Logger
}

// NewDiffusion 创建扩散变换
func NewDiffusion(cache *GenerationCache, runner *Runner, cfg DiffusionConfig, logger *zap.Logger) *Diffusion {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diffusion{
		cache:  cache,
		runner: runner,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "diffusion")),
	}
}

// Pipeline 返回 kind 对应的管线会话，首次访问时装载
func (d *Diffusion) Pipeline(ctx context.Context, kind Kind) (*inference.Session, error) {
	return d.cache.GetOrCreate(ctx, kind, d.builder(kind))
}

func (d *Diffusion) builder(kind Kind) rescache.Builder[*inference.Session] {
	return func(ctx context.Context) (*inference.Session, error) {
		return d.runner.Backend().Load(ctx, inference.LoadSpec{
			Family:    inference.FamilyDiffusion,
			Variant:   string(kind),
			Model:     d.cfg.Model,
			Revision:  d.cfg.Revision,
			DType:     d.cfg.DType,
			AuthToken: d.cfg.HFToken,
		})
	}
}

// Prefetch 预先装载三种管线
func (d *Diffusion) Prefetch(ctx context.Context) error {
	return d.cache.Prefetch(ctx, Kinds, d.builder)
}

// Loaded 返回已装载的管线种类
func (d *Diffusion) Loaded() []Kind {
	return d.cache.Keys()
}

// KindFor 有遮罩为 inpaint，有初始图为 img2img，否则 txt2img
func KindFor(p GenerateParams) Kind {
	switch {
	case p.Init != nil && p.Mask != nil:
		return KindInpaint
	case p.Init != nil:
		return KindImg2Img
	default:
		return KindTxt2Img
	}
}

// Generate 运行扩散模型
func (d *Diffusion) Generate(ctx context.Context, p GenerateParams) (image.Image, error) {
	if p.Prompt == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required")
	}
	if p.Mask != nil && p.Init == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "mask requires an init image")
	}
	strength := DefaultStrength
	if p.Strength != nil {
		strength = *p.Strength
	}
	if strength < 0 || strength > 1 {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("strength must be in [0, 1], got %g", strength))
	}
	if p.Steps < 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "num_inference_steps must not be negative")
	}

	req := inference.RunRequest{
		Prompt:   p.Prompt,
		Steps:    p.Steps,
		Guidance: p.Guidance,
		Eta:      p.Eta,
		Strength: strength,
	}
	if req.Steps == 0 {
		req.Steps = DefaultSteps
	}
	if req.Guidance == 0 {
		req.Guidance = DefaultGuidance
	}

	kind := KindFor(p)
	switch kind {
	case KindTxt2Img:
		req.Width = imaging.ReasonableSize(p.Width)
		req.Height = imaging.ReasonableSize(p.Height)
	default:
		req.Image = imaging.ResizeShortEdge(p.Init, initImageEdge)
		if p.Mask != nil {
			req.Mask = imaging.ResizeShortEdge(p.Mask, initImageEdge)
		}
	}

	sess, err := d.Pipeline(ctx, kind)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("running diffusion", zap.String("kind", string(kind)), zap.Int("steps", req.Steps))
	return d.runner.Run(ctx, OpGenerate, sess, req)
}
