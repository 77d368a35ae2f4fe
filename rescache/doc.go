/*
包 rescache 提供按配置键惰性构建、进程内永久保留的昂贵资源缓存。

# 概述

模型会话（权重加载到设备后的句柄）构建耗时从数秒到数分钟，且占用设备
显存。Cache 保证同一缓存实例中每个键最多构建一次，并发首次访问时只有
一个调用方执行构建，其余调用方等待并拿到同一实例。

# 核心类型

  - Cache[K, V]      ：泛型缓存，按键类型和资源类型参数化
  - Builder[V]       ：未命中时调用的构建函数
  - Observer         ：命中/未命中/构建耗时事件接收者（Prometheus）
  - KeyError         ：非法键，匹配 ErrInvalidKey
  - ConstructionError：构建失败，Unwrap 返回原始错误

# 主要能力

  - GetOrCreate：读锁命中，写锁仅用于插入占位条目，构建在锁外进行
  - 失败不落盘：构建失败的键被移除，后续调用可重新构建，缓存本身不重试
  - Prefetch：对固定键集合并发调用 GetOrCreate
  - 无淘汰：资源生命周期与进程一致

# 使用方式

	upscalers := rescache.New[bool, *inference.Session]("upscale", rescache.Options[bool]{
		Logger:   logger,
		Observer: collector,
	})
	sess, err := upscalers.GetOrCreate(ctx, false, buildPhotoUpscaler)
*/
package rescache
