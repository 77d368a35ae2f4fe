package inference

import (
	"context"
	"image"
	"time"
)

// Family 模型家族
type Family string

// 已支持的模型家族
const (
	FamilyDiffusion  Family = "stable-diffusion"
	FamilyRealESRGAN Family = "real-esrgan"
	FamilyGFPGAN     Family = "gfpgan"
)

// Arch 网络结构参数。零值字段不会发送给后端。
type Arch struct {
	Name              string `json:"name"`
	NumInCh           int    `json:"num_in_ch,omitempty"`
	NumOutCh          int    `json:"num_out_ch,omitempty"`
	NumFeat           int    `json:"num_feat,omitempty"`
	NumBlock          int    `json:"num_block,omitempty"`
	NumGrowCh         int    `json:"num_grow_ch,omitempty"`
	NumConv           int    `json:"num_conv,omitempty"`
	Scale             int    `json:"scale,omitempty"`
	ActType           string `json:"act_type,omitempty"`
	ChannelMultiplier int    `json:"channel_multiplier,omitempty"`
}

// LoadSpec 描述一次模型装载：模型、权重、设备与网络结构
type LoadSpec struct {
	Family  Family `json:"family"`
	Variant string `json:"variant,omitempty"`

	// 扩散模型
	Model     string `json:"model,omitempty"`
	Revision  string `json:"revision,omitempty"`
	DType     string `json:"dtype,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`

	// 超分 / 人脸修复
	WeightsPath       string  `json:"weights_path,omitempty"`
	Arch              *Arch   `json:"arch,omitempty"`
	NetScale          int     `json:"netscale,omitempty"`
	Tile              int     `json:"tile,omitempty"`
	TilePad           int     `json:"tile_pad,omitempty"`
	PrePad            int     `json:"pre_pad,omitempty"`
	Half              bool    `json:"half,omitempty"`
	Upscale           float64 `json:"upscale,omitempty"`
	BackgroundSession string  `json:"bg_session,omitempty"`

	Device string `json:"device,omitempty"`
}

// Session 已装载到设备上的模型句柄
type Session struct {
	ID       string
	Backend  string
	Spec     LoadSpec
	LoadedAt time.Time
}

// RunRequest 单次推理调用的参数
type RunRequest struct {
	Prompt string
	Image  image.Image
	Mask   image.Image

	Width    int
	Height   int
	Steps    int
	Guidance float64
	Eta      float64
	Strength float64

	OutScale       float64
	OnlyCenterFace bool
	Aligned        bool
	PasteBack      bool
}

// RunResult 推理结果
type RunResult struct {
	Image    image.Image
	Duration time.Duration
}

// Backend 模型调用后端。Load 由资源缓存的构建函数调用，
// Run 在每次变换请求时调用。
type Backend interface {
	Load(ctx context.Context, spec LoadSpec) (*Session, error)
	Run(ctx context.Context, sess *Session, req RunRequest) (*RunResult, error)
	Ping(ctx context.Context) error
	Name() string
}
