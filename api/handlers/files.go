package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/api"
	"github.com/BaSui01/imageflow/catalog"
	"github.com/BaSui01/imageflow/storage"
	"github.com/BaSui01/imageflow/types"
)

// =============================================================================
// 📁 文件 Handler
// =============================================================================

// FilesHandler 上传、列出与删除图像文件
type FilesHandler struct {
	catalog   catalog.Catalog
	layout    *storage.Layout
	maxUpload int64
	logger    *zap.Logger
}

// NewFilesHandler 创建文件处理器
func NewFilesHandler(cat catalog.Catalog, layout *storage.Layout, maxUpload int64, logger *zap.Logger) *FilesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &FilesHandler{
		catalog:   cat,
		layout:    layout,
		maxUpload: maxUpload,
		logger:    logger.With(zap.String("handler", "files")),
	}
}

// HandleList GET /files?limit=N
func (h *FilesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.logger)
	limit, ok := parseLimit(w, r, log)
	if !ok {
		return
	}

	uploads, outputs := true, false
	up, err := h.catalog.ListImages(r.Context(), &uploads, limit)
	if err != nil {
		WriteErr(w, err, log)
		return
	}
	out, err := h.catalog.ListImages(r.Context(), &outputs, limit)
	if err != nil {
		WriteErr(w, err, log)
		return
	}
	WriteSuccess(w, api.FilesResponse{Uploads: nonNil(up), Outputs: nonNil(out)})
}

// HandleUpload POST /files/upload，multipart 字段 file
func (h *FilesHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.logger)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteErr(w, err, log)
			return
		}
		WriteError(w, types.NewError(types.ErrInvalidRequest, "multipart field \"file\" is required").WithCause(err), log)
		return
	}
	defer file.Close()

	rel, err := h.layout.SaveUpload(header.Filename, file)
	if err != nil {
		WriteErr(w, err, log)
		return
	}

	img, err := h.catalog.AddImageFile(r.Context(), rel, header.Filename, "")
	if err != nil {
		// 无法解码的文件不留在上传目录
		_ = h.layout.Remove(rel)
		WriteError(w, types.NewError(types.ErrInvalidRequest, "uploaded file is not a readable image").WithCause(err), log)
		return
	}
	log.Info("file uploaded", zap.String("src", rel), zap.Int("width", img.Width), zap.Int("height", img.Height))
	WriteSuccess(w, img)
}

// HandleDelete DELETE /files/delete?file=<rel>，同时删除文件与目录条目
func (h *FilesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.logger)
	rel := r.URL.Query().Get("file")
	if rel == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query parameter \"file\" is required"), log)
		return
	}

	fileErr := h.layout.Remove(rel)
	if errors.Is(fileErr, storage.ErrOutsideRoot) || errors.Is(fileErr, storage.ErrNotManaged) {
		WriteErr(w, fileErr, log)
		return
	}
	if fileErr != nil && !errors.Is(fileErr, storage.ErrNotExist) {
		WriteErr(w, fileErr, log)
		return
	}

	rowErr := h.catalog.DeleteBySrc(r.Context(), rel)
	if rowErr != nil && !errors.Is(rowErr, catalog.ErrNotFound) {
		WriteErr(w, rowErr, log)
		return
	}
	if fileErr != nil && rowErr != nil {
		WriteErr(w, fileErr, log)
		return
	}
	WriteSuccess(w, api.DeleteResponse{Deleted: rel})
}

// =============================================================================
// 📜 历史 Handler
// =============================================================================

// HistoryHandler prompt 历史
type HistoryHandler struct {
	catalog catalog.Catalog
	logger  *zap.Logger
}

// NewHistoryHandler 创建历史处理器
func NewHistoryHandler(cat catalog.Catalog, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{catalog: cat, logger: logger.With(zap.String("handler", "history"))}
}

// HandleList GET /api/v1/history?limit=N
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.logger)
	limit, ok := parseLimit(w, r, log)
	if !ok {
		return
	}
	rows, err := h.catalog.ListHistory(r.Context(), limit)
	if err != nil {
		WriteErr(w, err, log)
		return
	}
	if rows == nil {
		rows = []catalog.History{}
	}
	WriteSuccess(w, rows)
}

// parseLimit 读取可选的 limit 参数，缺省为 0（不限制）
func parseLimit(w http.ResponseWriter, r *http.Request, log *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "limit must be a non-negative integer"), log)
		return 0, false
	}
	return n, true
}

func nonNil(images []catalog.Image) []catalog.Image {
	if images == nil {
		return []catalog.Image{}
	}
	return images
}
