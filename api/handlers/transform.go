package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/api"
	"github.com/BaSui01/imageflow/catalog"
	"github.com/BaSui01/imageflow/transform"
)

// =============================================================================
// 🎨 变换 Handler
// =============================================================================

// Transformer 变换服务，由 transform.Service 实现
type Transformer interface {
	Generate(ctx context.Context, req transform.GenerateRequest) (*catalog.Image, error)
	Upscale(ctx context.Context, req transform.UpscaleRequest) (*catalog.Image, error)
	RestoreFaces(ctx context.Context, req transform.RestoreRequest) (*catalog.Image, error)
	Prefetch(ctx context.Context) error
	Loaded() transform.LoadedModels
}

// TransformHandler 变换与模型管理处理器
type TransformHandler struct {
	svc    Transformer
	logger *zap.Logger
}

// NewTransformHandler 创建变换处理器
func NewTransformHandler(svc Transformer, logger *zap.Logger) *TransformHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransformHandler{svc: svc, logger: logger.With(zap.String("handler", "transform"))}
}

// HandleGenerate POST /transforms/stable-diffusion
func (h *TransformHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	img, err := h.svc.Generate(r.Context(), req.ToService())
	h.respond(w, r, img, err)
}

// HandleUpscale POST /transforms/real-esrgan
func (h *TransformHandler) HandleUpscale(w http.ResponseWriter, r *http.Request) {
	var req api.UpscaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	img, err := h.svc.Upscale(r.Context(), req.ToService())
	h.respond(w, r, img, err)
}

// HandleRestore POST /transforms/gfpgan
func (h *TransformHandler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	var req api.RestoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	img, err := h.svc.RestoreFaces(r.Context(), req.ToService())
	h.respond(w, r, img, err)
}

// HandleModels GET /api/v1/models
func (h *TransformHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.ModelsResponse(h.svc.Loaded()))
}

// HandlePrefetch POST /api/v1/models/prefetch，完成后返回已装载的模型
func (h *TransformHandler) HandlePrefetch(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Prefetch(r.Context()); err != nil {
		WriteErr(w, err, requestLogger(r, h.logger))
		return
	}
	WriteSuccess(w, api.ModelsResponse(h.svc.Loaded()))
}

func (h *TransformHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	log := requestLogger(r, h.logger)
	if !ValidateContentType(w, r, log) {
		return false
	}
	return DecodeJSONBody(w, r, dst, log) == nil
}

func (h *TransformHandler) respond(w http.ResponseWriter, r *http.Request, img *catalog.Image, err error) {
	if err != nil {
		WriteErr(w, err, requestLogger(r, h.logger))
		return
	}
	WriteSuccess(w, img)
}
