/*
包 inference 定义模型调用后端。

# 概述

Backend 把模型装载（Load）与推理（Run）拆开：装载返回的 Session
由资源缓存持有并在请求之间复用，Run 只携带单次调用的参数。

# 实现

  - HTTPBackend：以 JSON/HTTP 调用 GPU worker。
    POST /v1/sessions 装载，POST /v1/sessions/{id}/run 推理，GET /healthz 健康检查。
    图像以 base64 传输，格式为 PNG 或 BGR24。状态码 >= 400 映射为 *types.Error。
  - MockBackend：进程内确定性实现，记录每个模型家族的装载次数。
*/
package inference
