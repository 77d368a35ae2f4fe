package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/imageflow/catalog"
	"github.com/BaSui01/imageflow/imaging"
	"github.com/BaSui01/imageflow/storage"
	"github.com/BaSui01/imageflow/types"
)

// =============================================================================
// 🧭 变换服务
// =============================================================================

// GenerateRequest 生成请求，图像参数为存储根目录下的相对路径
type GenerateRequest struct {
	Prompt   string
	Width    int
	Height   int
	Img      string
	Mask     string
	Steps    int
	Guidance float64
	Eta      float64
	Strength *float64
	// Upscale 非空时对结果超分；与 FixFaces 同时设置时作为人脸修复倍数
	Upscale  *float64
	FixFaces bool
	Outfile  string
}

// UpscaleRequest 超分请求
type UpscaleRequest struct {
	Img      string
	Scale    float64
	ForAnime bool
	Outfile  string
}

// RestoreRequest 人脸修复请求
type RestoreRequest struct {
	Img            string
	Scale          float64
	OnlyCenterFace bool
	Aligned        bool
	Outfile        string
}

// LoadedModels 已装载的模型键
type LoadedModels struct {
	Generation []string  `json:"generation"`
	Upscale    []string  `json:"upscale"`
	Restore    []float64 `json:"restore"`
}

// Service 组合三种变换、存储与目录。任一变换为 nil 表示该功能未启用。
type Service struct {
	diffusion *Diffusion
	upscaler  *Upscaler
	restorer  *FaceRestorer
	catalog   catalog.Catalog
	layout    *storage.Layout
	logger    *zap.Logger
}

// NewService 创建变换服务
func NewService(diffusion *Diffusion, upscaler *Upscaler, restorer *FaceRestorer, cat catalog.Catalog, layout *storage.Layout, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		diffusion: diffusion,
		upscaler:  upscaler,
		restorer:  restorer,
		catalog:   cat,
		layout:    layout,
		logger:    logger.With(zap.String("component", "transform")),
	}
}

func disabled(name string) error {
	return types.NewError(types.ErrServiceUnavailable, name+" is disabled")
}

// Generate 运行扩散模型，可选人脸修复或超分，保存并登记结果
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*catalog.Image, error) {
	if s.diffusion == nil {
		return nil, disabled("generation")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required")
	}
	if req.FixFaces && s.restorer == nil {
		return nil, disabled("face restoration")
	}
	if req.Upscale != nil && !req.FixFaces && s.upscaler == nil {
		return nil, disabled("upscaling")
	}
	if err := checkPostScale(req); err != nil {
		return nil, err
	}

	if _, err := s.catalog.AddPrompt(ctx, req.Prompt, req.Img); err != nil {
		return nil, err
	}

	params := GenerateParams{
		Prompt:   req.Prompt,
		Width:    req.Width,
		Height:   req.Height,
		Steps:    req.Steps,
		Guidance: req.Guidance,
		Eta:      req.Eta,
		Strength: req.Strength,
	}
	var err error
	if req.Img != "" {
		if params.Init, err = s.loadImage(req.Img); err != nil {
			return nil, err
		}
		if req.Mask != "" {
			if params.Mask, err = s.loadImage(req.Mask); err != nil {
				return nil, err
			}
		}
	}

	img, err := s.diffusion.Generate(ctx, params)
	if err != nil {
		return nil, err
	}

	switch {
	case req.FixFaces:
		scale := 1.0
		if req.Upscale != nil {
			scale = *req.Upscale
		}
		img, err = s.restorer.Restore(ctx, img, RestoreParams{Scale: scale})
	case req.Upscale != nil:
		img, err = s.upscaler.Upscale(ctx, img, *req.Upscale, false)
	}
	if err != nil {
		return nil, err
	}

	name := req.Outfile
	if name == "" {
		name = req.Prompt
	}
	return s.save(ctx, img, name, req.Prompt, req.Img)
}

// checkPostScale 在写入历史与运行扩散模型之前校验后处理倍数
func checkPostScale(req GenerateRequest) error {
	switch {
	case req.FixFaces:
		if req.Upscale == nil || *req.Upscale == 0 {
			return nil
		}
		if err := validScale(*req.Upscale); err != nil {
			return types.NewError(types.ErrInvalidRequest, err.Error())
		}
	case req.Upscale != nil && *req.Upscale != 0:
		return checkUpscale(*req.Upscale)
	}
	return nil
}

// Upscale 对存储中的图像超分并登记结果
func (s *Service) Upscale(ctx context.Context, req UpscaleRequest) (*catalog.Image, error) {
	if s.upscaler == nil {
		return nil, disabled("upscaling")
	}
	src, err := s.loadImage(req.Img)
	if err != nil {
		return nil, err
	}
	img, err := s.upscaler.Upscale(ctx, src, req.Scale, req.ForAnime)
	if err != nil {
		return nil, err
	}
	name := req.Outfile
	if name == "" {
		name = "upscale_" + stem(req.Img)
	}
	return s.save(ctx, img, name, "Real-ESRGAN upscaling of "+req.Img, req.Img)
}

// RestoreFaces 对存储中的图像做人脸修复并登记结果
func (s *Service) RestoreFaces(ctx context.Context, req RestoreRequest) (*catalog.Image, error) {
	if s.restorer == nil {
		return nil, disabled("face restoration")
	}
	src, err := s.loadImage(req.Img)
	if err != nil {
		return nil, err
	}
	img, err := s.restorer.Restore(ctx, src, RestoreParams{
		Scale:          req.Scale,
		OnlyCenterFace: req.OnlyCenterFace,
		Aligned:        req.Aligned,
	})
	if err != nil {
		return nil, err
	}
	name := req.Outfile
	if name == "" {
		name = "face_" + stem(req.Img)
	}
	return s.save(ctx, img, name, "GFPGAN face restoration of "+req.Img, req.Img)
}

// =============================================================================
// 🔥 预热与状态
// =============================================================================

// Prefetch 并发预热所有已启用的模型
func (s *Service) Prefetch(ctx context.Context) error {
	var g errgroup.Group
	if s.diffusion != nil {
		g.Go(func() error { return s.diffusion.Prefetch(ctx) })
	}
	if s.upscaler != nil {
		g.Go(func() error { return s.upscaler.Prefetch(ctx) })
	}
	if s.restorer != nil {
		g.Go(func() error { return s.restorer.Prefetch(ctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("models prefetched")
	return nil
}

// Loaded 返回当前已装载的模型键，按字典序排列
func (s *Service) Loaded() LoadedModels {
	out := LoadedModels{
		Generation: []string{},
		Upscale:    []string{},
		Restore:    []float64{},
	}
	if s.diffusion != nil {
		for _, k := range s.diffusion.Loaded() {
			out.Generation = append(out.Generation, string(k))
		}
		sort.Strings(out.Generation)
	}
	if s.upscaler != nil {
		for _, anime := range s.upscaler.Loaded() {
			if anime {
				out.Upscale = append(out.Upscale, "anime")
			} else {
				out.Upscale = append(out.Upscale, "photo")
			}
		}
		sort.Strings(out.Upscale)
	}
	if s.restorer != nil {
		out.Restore = append(out.Restore, s.restorer.Loaded()...)
		sort.Float64s(out.Restore)
	}
	return out
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (s *Service) loadImage(rel string) (image.Image, error) {
	if rel == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "img is required")
	}
	abs, err := s.layout.Resolve(rel)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid image path").WithCause(err)
	}
	img, err := imaging.Load(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.NewError(types.ErrNotFound, "image not found: "+rel).WithCause(err)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "cannot decode image "+rel).WithCause(err)
	}
	return img, nil
}

func (s *Service) save(ctx context.Context, img image.Image, name, alt, referenceSrc string) (*catalog.Image, error) {
	f, rel, err := s.layout.CreateOutput(name)
	if err != nil {
		return nil, err
	}
	if err := imaging.EncodePNG(f, img); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("close %s: %w", rel, err)
	}
	s.logger.Info("image saved", zap.String("src", rel))

	entry, err := s.catalog.AddImageFile(ctx, rel, alt, referenceSrc)
	if err != nil {
		if rmErr := os.Remove(f.Name()); rmErr != nil {
			s.logger.Warn("remove uncataloged image failed", zap.String("src", rel), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("catalog %s: %w", rel, err)
	}
	return entry, nil
}

func stem(rel string) string {
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}
