package inference

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/imaging"
	"github.com/BaSui01/imageflow/types"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

// =============================================================================
// HTTPBackend
// =============================================================================

func newWorker(t *testing.T, format PixelFormat) (*httptest.Server, *LoadSpec) {
	t.Helper()
	loaded := &LoadSpec{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer worker-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(loaded))
		_ = json.NewEncoder(w).Encode(loadResponse{SessionID: "sess-1"})
	})
	mux.HandleFunc("POST /v1/sessions/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "sess-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no such session"}`))
			return
		}
		var req runRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Image)
		assert.Equal(t, string(format), req.Image.Format)

		in, err := decodeImage(*req.Image)
		require.NoError(t, err)
		out, err := encodeImage(imaging.Scale(in, req.OutScale), format)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(runResponse{Image: *out, DurationMS: 12})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, loaded
}

func TestHTTPBackend_LoadAndRun(t *testing.T) {
	for _, format := range []PixelFormat{PixelPNG, PixelBGR24} {
		t.Run(string(format), func(t *testing.T) {
			srv, loaded := newWorker(t, format)
			b := NewHTTPBackend(HTTPConfig{
				BaseURL:     srv.URL + "/",
				APIKey:      "worker-key",
				Device:      "cuda",
				PixelFormat: format,
			}, zap.NewNop())

			sess, err := b.Load(context.Background(), LoadSpec{
				Family:   FamilyRealESRGAN,
				Arch:     &Arch{Name: "rrdbnet", NumBlock: 23},
				NetScale: 4,
			})
			require.NoError(t, err)
			assert.Equal(t, "sess-1", sess.ID)
			assert.Equal(t, "cuda", loaded.Device)
			assert.Equal(t, 23, loaded.Arch.NumBlock)

			res, err := b.Run(context.Background(), sess, RunRequest{Image: testImage(8, 4), OutScale: 2})
			require.NoError(t, err)
			assert.Equal(t, 16, res.Image.Bounds().Dx())
			assert.Equal(t, 8, res.Image.Bounds().Dy())
			assert.NotZero(t, res.Duration)

			assert.NoError(t, b.Ping(context.Background()))
		})
	}
}

func TestHTTPBackend_ErrorMapping(t *testing.T) {
	srv, _ := newWorker(t, PixelPNG)
	b := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL, APIKey: "worker-key"}, nil)

	_, err := b.Run(context.Background(), &Session{ID: "gone"}, RunRequest{Image: testImage(2, 2)})
	require.Error(t, err)
	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrUpstreamError, typed.Code)
	assert.Equal(t, http.StatusNotFound, typed.HTTPStatus)
	assert.False(t, typed.Retryable)
	assert.Contains(t, typed.Message, "no such session")
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{http.StatusBadRequest, types.ErrUpstreamError, false},
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusInternalServerError, types.ErrUpstreamError, true},
		{http.StatusBadGateway, types.ErrUpstreamError, true},
		{http.StatusGatewayTimeout, types.ErrTimeout, true},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, "boom", "http")
		assert.Equal(t, tt.code, err.Code, tt.status)
		assert.Equal(t, tt.retryable, err.Retryable, tt.status)
		assert.Equal(t, "http", err.Backend)
	}
}

func TestHTTPBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b := NewHTTPBackend(HTTPConfig{BaseURL: url}, nil)
	err := b.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

// =============================================================================
// MockBackend
// =============================================================================

func TestMockBackend_CountsLoads(t *testing.T) {
	m := NewMockBackend()
	ctx := context.Background()

	_, err := m.Load(ctx, LoadSpec{Family: FamilyDiffusion, Variant: "txt2img"})
	require.NoError(t, err)
	_, err = m.Load(ctx, LoadSpec{Family: FamilyDiffusion, Variant: "img2img"})
	require.NoError(t, err)
	_, err = m.Load(ctx, LoadSpec{Family: FamilyGFPGAN})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Loads(FamilyDiffusion))
	assert.Equal(t, 1, m.Loads(FamilyGFPGAN))
	assert.Equal(t, 0, m.Loads(FamilyRealESRGAN))
}

func TestMockBackend_LoadHookFails(t *testing.T) {
	m := NewMockBackend()
	m.LoadHook = func(LoadSpec) error { return errors.New("out of memory") }
	_, err := m.Load(context.Background(), LoadSpec{Family: FamilyRealESRGAN})
	assert.EqualError(t, err, "out of memory")
	assert.Equal(t, 0, m.Loads(FamilyRealESRGAN))
}

func TestMockBackend_DiffusionIsDeterministic(t *testing.T) {
	m := NewMockBackend()
	ctx := context.Background()
	sess, err := m.Load(ctx, LoadSpec{Family: FamilyDiffusion, Variant: "txt2img"})
	require.NoError(t, err)

	a, err := m.Run(ctx, sess, RunRequest{Prompt: "a red fox", Width: 64, Height: 32})
	require.NoError(t, err)
	b, err := m.Run(ctx, sess, RunRequest{Prompt: "a red fox", Width: 64, Height: 32})
	require.NoError(t, err)
	c, err := m.Run(ctx, sess, RunRequest{Prompt: "a blue fox", Width: 64, Height: 32})
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 64, 32), a.Image.Bounds())
	assert.Equal(t, imaging.ToBGR(a.Image), imaging.ToBGR(b.Image))
	assert.NotEqual(t, imaging.ToBGR(a.Image), imaging.ToBGR(c.Image))
	assert.Equal(t, 3, m.Runs(FamilyDiffusion))
}

func TestMockBackend_UpscaleAndRestore(t *testing.T) {
	m := NewMockBackend()
	ctx := context.Background()

	up, err := m.Load(ctx, LoadSpec{Family: FamilyRealESRGAN, NetScale: 4})
	require.NoError(t, err)
	res, err := m.Run(ctx, up, RunRequest{Image: testImage(10, 5), OutScale: 2})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), res.Image.Bounds())

	res, err = m.Run(ctx, up, RunRequest{Image: testImage(10, 5)})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 20), res.Image.Bounds())

	face, err := m.Load(ctx, LoadSpec{Family: FamilyGFPGAN, Upscale: 3})
	require.NoError(t, err)
	res, err = m.Run(ctx, face, RunRequest{Image: testImage(10, 5), PasteBack: true})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 15), res.Image.Bounds())

	_, err = m.Run(ctx, face, RunRequest{})
	assert.Error(t, err)
	_, err = m.Run(ctx, &Session{ID: "unknown"}, RunRequest{})
	assert.Error(t, err)
}
