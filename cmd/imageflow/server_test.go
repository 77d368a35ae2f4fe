package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/api"
	"github.com/BaSui01/imageflow/catalog"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/testutil"
	"github.com/BaSui01/imageflow/testutil/fixtures"
	"github.com/BaSui01/imageflow/testutil/mocks"
	"github.com/BaSui01/imageflow/transform"
)

// newTestApp 使用 mock 推理后端、SQLite 与本地权重服务组装 App
func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *mocks.WeightServer) {
	t.Helper()

	weightsSrv := mocks.NewWeightServer().Start(t)
	cfg := fixtures.Config(t, weightsSrv.URL)
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	app, err := newApp(testutil.TestContext(t), cfg, testutil.NewCollector(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, weightsSrv
}

func newTestHandler(t *testing.T, app *App) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewServer(ctx, app, zap.NewNop()).apiHandler(ctx)
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func data[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope), w.Body.String())
	require.True(t, envelope.Success, w.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(envelope.Data, &out))
	return out
}

func TestServer_TransformRoundTrip(t *testing.T) {
	app, _ := newTestApp(t, nil)
	h := newTestHandler(t, app)

	w := do(h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(h, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 文生图
	w = do(h, http.MethodPost, "/transforms/stable-diffusion", `{"prompt":"a red fox","width":512,"height":512}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	generated := data[catalog.Image](t, w)
	assert.True(t, strings.HasPrefix(generated.Src, "output/"), generated.Src)
	assert.Positive(t, generated.Width)

	// 生成的文件可以通过静态路由访问
	w = do(h, http.MethodGet, "/"+generated.Src, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	// 旧拼写的超分路由
	w = do(h, http.MethodPost, "/transforms/real-ersgan", fmt.Sprintf(`{"img":%q,"scale":2}`, generated.Src), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	upscaled := data[catalog.Image](t, w)
	assert.Equal(t, generated.Width*2, upscaled.Width)

	w = do(h, http.MethodGet, "/files", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	files := data[api.FilesResponse](t, w)
	assert.Len(t, files.Outputs, 2)
	assert.Empty(t, files.Uploads)

	w = do(h, http.MethodGet, "/api/v1/models", "", nil)
	models := data[api.ModelsResponse](t, w)
	assert.Equal(t, []string{"txt2img"}, models.Generation)
	assert.Equal(t, []string{"photo"}, models.Upscale)
	assert.Empty(t, models.Restore)

	w = do(h, http.MethodGet, "/api/v1/history", "", nil)
	history := data[[]catalog.History](t, w)
	require.Len(t, history, 1)
	assert.Equal(t, "a red fox", history[0].Prompt)
}

func TestServer_PrefetchLoadsEveryModel(t *testing.T) {
	app, weightsSrv := newTestApp(t, nil)
	h := newTestHandler(t, app)

	w := do(h, http.MethodPost, "/api/v1/models/prefetch", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	models := data[api.ModelsResponse](t, w)
	assert.Equal(t, []string{"img2img", "inpaint", "txt2img"}, models.Generation)
	assert.Equal(t, []string{"anime", "photo"}, models.Upscale)
	assert.Equal(t, []float64{1}, models.Restore)

	// 每个权重文件只下载一次
	for _, name := range []string{"RealESRGAN_x4plus.pth", "realesr-animevideov3.pth", "GFPGANv1.3.pth"} {
		assert.Equal(t, 1, weightsSrv.Hits(name), name)
	}

	// 再次预热不会重新下载
	w = do(h, http.MethodPost, "/api/v1/models/prefetch", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, weightsSrv.Hits("GFPGANv1.3.pth"))
}

func TestServer_UploadThenImg2Img(t *testing.T) {
	app, _ := newTestApp(t, nil)
	h := newTestHandler(t, app)

	src := fixtures.WritePNG(t, app.layout.Root, "uploads/sketch.png", fixtures.Gradient(64, 48))
	_, err := app.catalog.AddImageFile(testutil.TestContext(t), src, "sketch", "")
	require.NoError(t, err)

	body := testutil.MustJSON(map[string]any{"prompt": "oil painting", "img": src, "strength": 0.5})
	w := do(h, http.MethodPost, "/transforms/stable-diffusion", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := data[catalog.Image](t, w)
	assert.False(t, out.IsUpload)

	w = do(h, http.MethodGet, "/files", "", nil)
	files := data[api.FilesResponse](t, w)
	require.Len(t, files.Uploads, 1)
	assert.Equal(t, src, files.Uploads[0].Src)
	assert.Equal(t, files.Uploads[0].ID, out.ReferenceImage)

	models := data[api.ModelsResponse](t, do(h, http.MethodGet, "/api/v1/models", "", nil))
	assert.Equal(t, []string{"img2img"}, models.Generation)
}

func TestServer_ErrorsAndMethods(t *testing.T) {
	app, _ := newTestApp(t, func(cfg *config.Config) {
		cfg.Generation.Enabled = false
	})
	h := newTestHandler(t, app)

	w := do(h, http.MethodPost, "/transforms/stable-diffusion", `{"prompt":"x"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(h, http.MethodPost, "/transforms/gfpgan", `{"img":"uploads/missing.png"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(h, http.MethodPost, "/transforms/gfpgan", `{"img":"../../etc/passwd"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodGet, "/transforms/gfpgan", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(h, http.MethodDelete, "/files/delete?file=output/nothing.png", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_APIKeyProtectsAPIOnly(t *testing.T) {
	app, _ := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.APIKeys = []string{"let-me-in"}
	})
	h := newTestHandler(t, app)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/files", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/files", "", map[string]string{"X-API-Key": "let-me-in"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/version", "", nil).Code)
}

func TestImportExisting(t *testing.T) {
	app, _ := newTestApp(t, nil)
	ctx := context.Background()

	img, err := app.service.Generate(ctx, transform.GenerateRequest{Prompt: "lighthouse"})
	require.NoError(t, err)
	require.NoError(t, app.catalog.DeleteBySrc(ctx, img.Src))

	imported, total, err := importExisting(ctx, app, "restored")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, imported)

	// 再次导入不会重复登记
	imported, _, err = importExisting(ctx, app, "restored")
	require.NoError(t, err)
	assert.Zero(t, imported)

	found, err := app.catalog.FindBySrc(ctx, img.Src)
	require.NoError(t, err)
	assert.Equal(t, "restored", found.Alt)
}

func TestStartPrefetch_QueuesOnWorkerPool(t *testing.T) {
	app, weightsSrv := newTestApp(t, nil)

	startPrefetch(testutil.TestContext(t), app, zap.NewNop())

	require.Eventually(t, func() bool {
		loaded := app.service.Loaded()
		return len(loaded.Generation) == 3 && len(loaded.Upscale) == 2 && len(loaded.Restore) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), app.workers.Stats().Submitted)
	assert.Equal(t, 1, weightsSrv.Hits("GFPGANv1.3.pth"))
}
