/*
包 transform 实现三种图像变换及其编排服务。

# 变换

  - Diffusion：文生图、图生图与局部重绘，管线按 Kind（txt2img / img2img /
    inpaint）缓存在 GenerationCache 中。
  - Upscaler：Real-ESRGAN 超分，照片（RRDBNet）与动漫（SRVGGNetCompact）
    两个模型按 forAnime 缓存在 UpscaleCache 中。
  - FaceRestorer：GFPGAN 人脸修复，按放大倍数缓存在 RestoreCache 中；
    倍数不为 1 时借用 Upscaler 的照片模型处理背景。

三个缓存都是 rescache.Cache 的实例，由调用方创建后注入，构建函数负责
下载权重（WeightFetcher）并通过 inference.Backend 装载模型。

# 服务

Service 把变换与 storage、catalog 串起来：读取输入、运行模型、写出 PNG
并登记目录条目。Prefetch 预热所有已启用的模型，Loaded 报告当前已装载的键。

推理调用经 Runner 进入 internal/pool 的有界 worker 池，每次调用都会记录
Prometheus 指标与 OTel span。
*/
package transform
