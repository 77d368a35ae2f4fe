// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 ImageFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 指标: NewCollector 为每个测试生成独立 namespace 的 Collector
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue / AssertEventuallyEqual
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: WeightServer，按文件名提供假权重并记录下载次数，
    支持注入前 N 次失败
  - testutil/fixtures: 测试图像（渐变 PNG/JPEG）、写入存储目录的
    图像文件，以及指向临时目录与 mock 后端的应用配置

# 使用示例

	weightsSrv := mocks.NewWeightServer().WithFailures(1).Start(t)
	cfg := fixtures.Config(t, weightsSrv.URL)
	src := fixtures.WritePNG(t, cfg.Storage.Root, "uploads/cat.png", fixtures.Gradient(64, 48))
*/
package testutil
