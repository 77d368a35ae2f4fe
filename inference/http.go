package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/imaging"
	"github.com/BaSui01/imageflow/internal/tlsutil"
	"github.com/BaSui01/imageflow/types"
)

// PixelFormat 图像在线路上的编码方式
type PixelFormat string

const (
	// PixelPNG base64 编码的 PNG
	PixelPNG PixelFormat = "png"
	// PixelBGR24 base64 编码的逐行 BGR24 原始字节，模型侧无需解码
	PixelBGR24 PixelFormat = "bgr24"
)

// HTTPConfig GPU worker 连接配置
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Device      string
	Timeout     time.Duration
	PixelFormat PixelFormat
}

// HTTPBackend 通过 JSON/HTTP 调用远端 GPU worker
type HTTPBackend struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPBackend 创建 HTTP 推理后端
func NewHTTPBackend(cfg HTTPConfig, logger *zap.Logger) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = PixelPNG
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBackend{
		cfg:    cfg,
		client: tlsutil.ClientFor(cfg.BaseURL, cfg.Timeout),
		logger: logger.With(zap.String("component", "inference"), zap.String("backend", "http")),
	}
}

// Name 后端名称
func (b *HTTPBackend) Name() string { return "http" }

// --- 线路格式 ---

type wireImage struct {
	Format string `json:"format"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Data   string `json:"data"`
}

type loadResponse struct {
	SessionID string `json:"session_id"`
}

type runRequest struct {
	Prompt         string     `json:"prompt,omitempty"`
	Image          *wireImage `json:"image,omitempty"`
	Mask           *wireImage `json:"mask,omitempty"`
	Width          int        `json:"width,omitempty"`
	Height         int        `json:"height,omitempty"`
	Steps          int        `json:"num_inference_steps,omitempty"`
	Guidance       float64    `json:"guidance_scale,omitempty"`
	Eta            float64    `json:"eta"`
	Strength       float64    `json:"strength,omitempty"`
	OutScale       float64    `json:"outscale,omitempty"`
	OnlyCenterFace bool       `json:"only_center_face,omitempty"`
	Aligned        bool       `json:"has_aligned,omitempty"`
	PasteBack      bool       `json:"paste_back,omitempty"`
}

type runResponse struct {
	Image      wireImage `json:"image"`
	DurationMS int64     `json:"duration_ms"`
}

// Load 在 worker 上装载模型并返回会话
func (b *HTTPBackend) Load(ctx context.Context, spec LoadSpec) (*Session, error) {
	if spec.Device == "" {
		spec.Device = b.cfg.Device
	}
	var resp loadResponse
	if err := b.do(ctx, http.MethodPost, "/v1/sessions", spec, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, types.NewError(types.ErrUpstreamError, "backend returned an empty session id").
			WithBackend(b.Name())
	}
	b.logger.Info("model loaded",
		zap.String("family", string(spec.Family)),
		zap.String("variant", spec.Variant),
		zap.String("session_id", resp.SessionID),
	)
	return &Session{ID: resp.SessionID, Backend: b.Name(), Spec: spec, LoadedAt: time.Now()}, nil
}

// Run 在会话上执行一次推理
func (b *HTTPBackend) Run(ctx context.Context, sess *Session, req RunRequest) (*RunResult, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	body := runRequest{
		Prompt:         req.Prompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		Guidance:       req.Guidance,
		Eta:            req.Eta,
		Strength:       req.Strength,
		OutScale:       req.OutScale,
		OnlyCenterFace: req.OnlyCenterFace,
		Aligned:        req.Aligned,
		PasteBack:      req.PasteBack,
	}
	var err error
	if req.Image != nil {
		if body.Image, err = encodeImage(req.Image, b.cfg.PixelFormat); err != nil {
			return nil, err
		}
	}
	if req.Mask != nil {
		if body.Mask, err = encodeImage(req.Mask, b.cfg.PixelFormat); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var resp runResponse
	path := "/v1/sessions/" + url.PathEscape(sess.ID) + "/run"
	if err := b.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	img, err := decodeImage(resp.Image)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "invalid image in backend response").
			WithCause(err).WithBackend(b.Name())
	}
	d := time.Duration(resp.DurationMS) * time.Millisecond
	if d == 0 {
		d = time.Since(start)
	}
	return &RunResult{Image: img, Duration: d}, nil
}

// Ping 健康检查
func (b *HTTPBackend) Ping(ctx context.Context) error {
	return b.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.NewError(types.ErrTimeout, "backend request timed out").
				WithCause(err).WithRetryable(true).WithBackend(b.Name())
		}
		return types.NewError(types.ErrServiceUnavailable, "backend unreachable").
			WithCause(err).WithRetryable(true).WithBackend(b.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), b.Name())
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrUpstreamError, "failed to decode backend response").
			WithCause(err).WithBackend(b.Name())
	}
	return nil
}

// mapHTTPError 将后端状态码映射为 *types.Error
func mapHTTPError(status int, msg, backend string) *types.Error {
	code := types.ErrUpstreamError
	switch status {
	case http.StatusGatewayTimeout:
		code = types.ErrTimeout
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
	}
	return types.NewError(code, fmt.Sprintf("backend error: status=%d %s", status, msg)).
		WithHTTPStatus(status).
		WithRetryable(status >= 500 || status == http.StatusTooManyRequests).
		WithBackend(backend)
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(data))
}

// =============================================================================
// 🖼️ 图像编解码
// =============================================================================

func encodeImage(img image.Image, format PixelFormat) (*wireImage, error) {
	b := img.Bounds()
	switch format {
	case PixelBGR24:
		return &wireImage{
			Format: string(PixelBGR24),
			Width:  b.Dx(),
			Height: b.Dy(),
			Data:   base64.StdEncoding.EncodeToString(imaging.ToBGR(img)),
		}, nil
	default:
		data, err := imaging.PNGBase64(img)
		if err != nil {
			return nil, err
		}
		return &wireImage{Format: string(PixelPNG), Width: b.Dx(), Height: b.Dy(), Data: data}, nil
	}
}

func decodeImage(w wireImage) (image.Image, error) {
	switch PixelFormat(w.Format) {
	case PixelBGR24:
		raw, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return nil, err
		}
		return imaging.FromBGR(w.Width, w.Height, raw)
	case PixelPNG, "":
		return imaging.DecodeBase64(w.Data)
	default:
		return nil, fmt.Errorf("unknown pixel format %q", w.Format)
	}
}
