package inference

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/BaSui01/imageflow/imaging"
)

// MockBackend 进程内的确定性后端，用于本地开发与测试。
// 扩散模型输出由 prompt 决定的渐变图，超分与人脸修复按倍数缩放输入。
type MockBackend struct {
	// LoadDelay 模拟模型装载耗时
	LoadDelay time.Duration
	// LoadHook 非 nil 时在装载前调用，返回错误即装载失败
	LoadHook func(spec LoadSpec) error

	mu       sync.Mutex
	loads    map[Family]int
	runs     map[Family]int
	sessions map[string]LoadSpec
	seq      int
}

// NewMockBackend 创建 mock 后端
func NewMockBackend() *MockBackend {
	return &MockBackend{
		loads:    make(map[Family]int),
		runs:     make(map[Family]int),
		sessions: make(map[string]LoadSpec),
	}
}

// Name 后端名称
func (m *MockBackend) Name() string { return "mock" }

// Ping 始终健康
func (m *MockBackend) Ping(ctx context.Context) error { return ctx.Err() }

// Load 记录装载次数并返回新会话
func (m *MockBackend) Load(ctx context.Context, spec LoadSpec) (*Session, error) {
	if m.LoadDelay > 0 {
		select {
		case <-time.After(m.LoadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.LoadHook != nil {
		if err := m.LoadHook(spec); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.loads[spec.Family]++
	id := fmt.Sprintf("mock-%s-%d", spec.Family, m.seq)
	m.sessions[id] = spec
	return &Session{ID: id, Backend: m.Name(), Spec: spec, LoadedAt: time.Now()}, nil
}

// Run 执行确定性的伪推理
func (m *MockBackend) Run(ctx context.Context, sess *Session, req RunRequest) (*RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	spec, ok := m.sessions[sess.ID]
	if ok {
		m.runs[spec.Family]++
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sess.ID)
	}

	start := time.Now()
	var out image.Image
	switch spec.Family {
	case FamilyDiffusion:
		out = m.diffuse(req)
	case FamilyRealESRGAN:
		if req.Image == nil {
			return nil, fmt.Errorf("real-esrgan: image is required")
		}
		scale := req.OutScale
		if scale <= 0 {
			scale = float64(spec.NetScale)
		}
		out = imaging.Scale(req.Image, scale)
	case FamilyGFPGAN:
		if req.Image == nil {
			return nil, fmt.Errorf("gfpgan: image is required")
		}
		scale := spec.Upscale
		if scale <= 0 {
			scale = 1
		}
		out = imaging.Scale(req.Image, scale)
	default:
		return nil, fmt.Errorf("unsupported family %q", spec.Family)
	}
	return &RunResult{Image: out, Duration: time.Since(start)}, nil
}

func (m *MockBackend) diffuse(req RunRequest) image.Image {
	w, h := req.Width, req.Height
	if w <= 0 {
		w = imaging.DefaultSize
	}
	if h <= 0 {
		h = imaging.DefaultSize
	}

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(req.Prompt))
	seed := hash.Sum32()
	r0, g0, b0 := uint8(seed), uint8(seed>>8), uint8(seed>>16)

	var base *image.RGBA
	if req.Image != nil {
		base = imaging.Resize(req.Image, w, h)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{
				R: r0 + uint8(x*255/w),
				G: g0 + uint8(y*255/h),
				B: b0,
				A: 0xff,
			}
			if base != nil {
				c = blend(base.RGBAAt(x, y), c, req.Strength)
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

// blend 按 strength 在原图与噪声之间插值
func blend(a, b color.RGBA, strength float64) color.RGBA {
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x)*(1-strength) + float64(y)*strength)
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 0xff}
}

// Loads 返回某个家族的装载次数
func (m *MockBackend) Loads(f Family) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[f]
}

// Runs 返回某个家族的推理次数
func (m *MockBackend) Runs(f Family) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[f]
}

// SessionSpec 返回会话的装载参数
func (m *MockBackend) SessionSpec(id string) (LoadSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spec, ok := m.sessions[id]
	return spec, ok
}
