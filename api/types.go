package api

import (
	"github.com/BaSui01/imageflow/catalog"
	"github.com/BaSui01/imageflow/transform"
)

// =============================================================================
// 🎨 变换请求
// =============================================================================

// GenerateRequest POST /transforms/stable-diffusion 请求体
type GenerateRequest struct {
	Prompt            string   `json:"prompt"`
	Width             int      `json:"width,omitempty"`
	Height            int      `json:"height,omitempty"`
	Img               string   `json:"img,omitempty"`
	Mask              string   `json:"mask,omitempty"`
	NumInferenceSteps int      `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64  `json:"guidance_scale,omitempty"`
	Eta               float64  `json:"eta,omitempty"`
	Strength          *float64 `json:"strength,omitempty"`
	Upscale           *float64 `json:"upscale,omitempty"`
	FixFaces          bool     `json:"fix_faces,omitempty"`
	Outfile           string   `json:"outfile,omitempty"`
}

// ToService 转换为服务层请求
func (r GenerateRequest) ToService() transform.GenerateRequest {
	return transform.GenerateRequest{
		Prompt:   r.Prompt,
		Width:    r.Width,
		Height:   r.Height,
		Img:      r.Img,
		Mask:     r.Mask,
		Steps:    r.NumInferenceSteps,
		Guidance: r.GuidanceScale,
		Eta:      r.Eta,
		Strength: r.Strength,
		Upscale:  r.Upscale,
		FixFaces: r.FixFaces,
		Outfile:  r.Outfile,
	}
}

// UpscaleRequest POST /transforms/real-esrgan 请求体
type UpscaleRequest struct {
	Img      string  `json:"img"`
	Scale    float64 `json:"scale,omitempty"`
	ForAnime bool    `json:"for_anime,omitempty"`
	Outfile  string  `json:"outfile,omitempty"`
}

// ToService 转换为服务层请求
func (r UpscaleRequest) ToService() transform.UpscaleRequest {
	return transform.UpscaleRequest{
		Img:      r.Img,
		Scale:    r.Scale,
		ForAnime: r.ForAnime,
		Outfile:  r.Outfile,
	}
}

// RestoreRequest POST /transforms/gfpgan 请求体
type RestoreRequest struct {
	Img            string  `json:"img"`
	Scale          float64 `json:"scale,omitempty"`
	OnlyCenterFace bool    `json:"only_center_face,omitempty"`
	Aligned        bool    `json:"aligned,omitempty"`
	Outfile        string  `json:"outfile,omitempty"`
}

// ToService 转换为服务层请求
func (r RestoreRequest) ToService() transform.RestoreRequest {
	return transform.RestoreRequest{
		Img:            r.Img,
		Scale:          r.Scale,
		OnlyCenterFace: r.OnlyCenterFace,
		Aligned:        r.Aligned,
		Outfile:        r.Outfile,
	}
}

// =============================================================================
// 📁 响应
// =============================================================================

// FilesResponse GET /files 响应
type FilesResponse struct {
	Uploads []catalog.Image `json:"uploads"`
	Outputs []catalog.Image `json:"outputs"`
}

// DeleteResponse DELETE /files/delete 响应
type DeleteResponse struct {
	Deleted string `json:"deleted"`
}

// ModelsResponse GET /api/v1/models 响应
type ModelsResponse = transform.LoadedModels

// VersionInfo GET /version 响应
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
